package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/converter"
)

// ConvertTask runs the external converter once.
type ConvertTask struct {
	base
	req  converter.Request
	conv converter.Converter
}

// NewConvertTask creates a conversion task.
func NewConvertTask(req converter.Request, conv converter.Converter) *ConvertTask {
	t := &ConvertTask{req: req, conv: conv}
	t.init(KindConvert)
	return t
}

// Request returns the conversion the task performs.
func (t *ConvertTask) Request() converter.Request {
	return t.req
}

func (t *ConvertTask) Run(ctx context.Context, emit func(Message)) error {
	if err := t.claim(); err != nil {
		return err
	}
	src := filepath.Base(t.req.Source)

	t.enter(StateInvoking, fmt.Sprintf("Converting: %s -> %s", src, strings.ToUpper(t.req.Format)), emit)
	err := t.conv.Convert(ctx, t.req)

	res := &ConvertResult{Request: t.req}
	state := StateFailed
	var exitErr *converter.ExitError
	switch {
	case err == nil:
		state = StateSucceeded
		res.Outcome = OutcomeSucceeded
		res.Message = fmt.Sprintf("Converted: %s -> %s", src, filepath.Base(t.req.Output))
	case errors.Is(err, apperr.ErrNotInstalled):
		res.Outcome = OutcomeNotInstalled
		res.Message = "Conversion failed: converter not installed"
	case errors.As(err, &exitErr):
		res.Outcome = OutcomeFailed
		res.ExitCode = exitErr.Code
		res.Stderr = exitErr.Stderr
		res.Message = "Conversion failed: " + exitErr.Error()
	default:
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("Error during conversion: %v", err)
	}

	m := t.enter(state, res.Message, emit)
	m.Convert = res
	emit(m)
	return nil
}

var _ Task = (*ConvertTask)(nil)
