package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/mdview/internal/apperr"
)

// Runner starts tasks on their own goroutines and funnels every message they
// emit into one channel.
//
// Dispatch, Settle and Busy keep the in-flight table and must only be called
// from the goroutine that drains Messages. Workers only send.
type Runner struct {
	logger   *slog.Logger
	messages chan Message
	inflight map[Kind]uuid.UUID
	wg       sync.WaitGroup
}

// NewRunner creates a runner whose message channel holds buffer messages.
func NewRunner(buffer int, logger *slog.Logger) *Runner {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:   logger,
		messages: make(chan Message, buffer),
		inflight: make(map[Kind]uuid.UUID),
	}
}

// Messages returns the channel all task messages arrive on.
func (r *Runner) Messages() <-chan Message {
	return r.messages
}

// Dispatch starts t unless a task of the same kind is still in flight, in
// which case it returns apperr.ErrBusy and t is not started.
func (r *Runner) Dispatch(ctx context.Context, t Task) error {
	if id, busy := r.inflight[t.Kind()]; busy {
		return fmt.Errorf("%w: %s task %s", apperr.ErrBusy, t.Kind(), id)
	}
	r.inflight[t.Kind()] = t.ID()
	r.logger.Debug("task: dispatched",
		slog.String("kind", string(t.Kind())),
		slog.String("task_id", t.ID().String()))

	emit := func(m Message) {
		select {
		case r.messages <- m:
		case <-ctx.Done():
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := t.Run(ctx, emit); err != nil {
			// Only a spent task gets here; release its slot.
			r.logger.Warn("task: not run",
				slog.String("kind", string(t.Kind())),
				slog.String("task_id", t.ID().String()),
				slog.String("error", err.Error()))
			emit(Message{TaskID: t.ID(), Kind: t.Kind(), State: StateFailed, Text: err.Error()})
		}
	}()
	return nil
}

// Settle clears the in-flight slot when m is the terminal message of the
// task occupying it, and reports whether it did.
func (r *Runner) Settle(m Message) bool {
	if !m.Terminal() {
		return false
	}
	if id, ok := r.inflight[m.Kind]; ok && id == m.TaskID {
		delete(r.inflight, m.Kind)
		return true
	}
	return false
}

// Busy reports whether a task of kind is in flight.
func (r *Runner) Busy(kind Kind) bool {
	_, ok := r.inflight[kind]
	return ok
}

// Wait blocks until every dispatched goroutine has returned. The message
// channel must keep being drained, or ctx cancelled, for this to finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}
