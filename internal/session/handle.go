package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/sse"
	"github.com/starford/mdview/internal/task"
)

// handle applies a task message on the loop.
func (s *Session) handle(ctx context.Context, m task.Message) {
	s.runner.Settle(m)
	switch {
	case !m.Terminal():
		s.setStatus(m.Text)
	case m.Load != nil:
		s.finishLoad(ctx, m)
	case m.Convert != nil:
		s.finishConvert(ctx, m)
	default:
		s.setStatus(m.Text)
		s.remember(TaskResult{ID: m.TaskID, Kind: m.Kind, Failed: m.State == task.StateFailed, Text: m.Text})
	}
}

func (s *Session) finishLoad(ctx context.Context, m task.Message) {
	res := m.Load
	doc := res.Document
	changed := s.doc == nil || s.doc.Path != doc.Path || s.doc.Checksum != doc.Checksum

	// A failed load still becomes current: the error page is what the view shows.
	s.current = res.Path
	s.doc = doc
	s.setStatus(m.Text)
	s.remember(TaskResult{ID: m.TaskID, Kind: m.Kind, Failed: res.Err != nil, Text: m.Text})

	if res.Err != nil {
		s.logger.Warn("session: load failed",
			slog.String("path", res.Path),
			slog.String("error", res.Err.Error()))
	} else {
		s.logger.Info("session: document loaded",
			slog.String("path", res.Path),
			slog.String("task_id", m.TaskID.String()))
	}

	if changed {
		s.pub.Publish(sse.Event{Type: sse.EventDocumentLoaded, Data: map[string]any{
			"path":     doc.Path,
			"title":    doc.Title,
			"checksum": doc.Checksum,
			"failed":   doc.Failed,
		}})
	}

	if s.rec != nil && !doc.Failed {
		if err := s.rec.RecordOpen(ctx, doc.Path, doc.Title, doc.Checksum); err != nil {
			s.logger.Warn("session: record open failed", slog.String("error", err.Error()))
		}
	}
	if s.onLoaded != nil {
		s.onLoaded(res.Path)
	}
}

func (s *Session) finishConvert(ctx context.Context, m task.Message) {
	res := m.Convert
	text := res.Message
	if res.Outcome == task.OutcomeNotInstalled {
		text = fmt.Sprintf("%s. Install it from %s", res.Message, s.installURL)
	}
	s.setStatus(text)
	s.remember(TaskResult{
		ID:     m.TaskID,
		Kind:   m.Kind,
		Failed: res.Outcome != task.OutcomeSucceeded,
		Text:   text,
	})

	level := slog.LevelInfo
	if res.Outcome != task.OutcomeSucceeded {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "session: conversion finished",
		slog.String("task_id", m.TaskID.String()),
		slog.String("source", res.Request.Source),
		slog.String("output", res.Request.Output),
		slog.String("outcome", string(res.Outcome)))

	s.pub.Publish(sse.Event{Type: sse.EventConversion, Data: map[string]any{
		"task_id": m.TaskID.String(),
		"outcome": res.Outcome,
		"message": text,
		"output":  res.Request.Output,
	}})

	if s.rec != nil {
		detail := res.Message
		if res.Stderr != "" {
			detail = res.Stderr
		}
		err := s.rec.RecordConversion(ctx, history.Conversion{
			TaskID:  m.TaskID,
			Source:  res.Request.Source,
			Output:  res.Request.Output,
			Format:  res.Request.Format,
			Outcome: string(res.Outcome),
			Detail:  detail,
		})
		if err != nil {
			s.logger.Warn("session: record conversion failed", slog.String("error", err.Error()))
		}
	}
}
