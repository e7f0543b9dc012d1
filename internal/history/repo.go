package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mdview/internal/apperr"
)

const defaultLimit = 20

// Document is a row in the documents table.
type Document struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	OpenedAt  time.Time `json:"opened_at"`
	OpenCount int       `json:"open_count"`
}

// Conversion is a row in the conversions table.
type Conversion struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Source     string    `json:"source"`
	Output     string    `json:"output"`
	Format     string    `json:"format"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecordOpen upserts a document and bumps its open count.
func (db *DB) RecordOpen(ctx context.Context, path, title, checksum string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO documents (path, title, checksum, opened_at, open_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			opened_at  = excluded.opened_at,
			open_count = documents.open_count + 1
	`, path, title, checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("history: record open: %w", err)
	}
	return nil
}

// Recent returns the most recently opened documents, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Document, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, title, checksum, opened_at, open_count
		FROM documents
		ORDER BY opened_at DESC, path
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return scanDocuments(rows)
}

// Search matches documents whose path or title contains query.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return db.Recent(ctx, limit)
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, title, checksum, opened_at, open_count
		FROM documents
		WHERE path LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\'
		ORDER BY open_count DESC, opened_at DESC
		LIMIT ?
	`, pattern, pattern, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	return scanDocuments(rows)
}

// Forget removes a document from the history.
func (db *DB) Forget(ctx context.Context, path string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("history: forget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: document %s: %w", path, apperr.ErrNotFound)
	}
	return nil
}

// RecordConversion stores the outcome of a conversion. A zero ID or
// FinishedAt is filled in.
func (db *DB) RecordConversion(ctx context.Context, c Conversion) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO conversions (id, task_id, source, output, format, outcome, detail, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID.String(), c.TaskID.String(), c.Source, c.Output, c.Format, c.Outcome, c.Detail, c.FinishedAt)
	if err != nil {
		return fmt.Errorf("history: record conversion: %w", err)
	}
	return nil
}

// Conversions returns the latest conversions, newest first.
func (db *DB) Conversions(ctx context.Context, limit int) ([]Conversion, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, task_id, source, output, format, outcome, detail, finished_at
		FROM conversions
		ORDER BY finished_at DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: conversions: %w", err)
	}
	defer rows.Close()

	var out []Conversion
	for rows.Next() {
		var (
			c          Conversion
			id, taskID string
		)
		if err := rows.Scan(&id, &taskID, &c.Source, &c.Output, &c.Format, &c.Outcome, &c.Detail, &c.FinishedAt); err != nil {
			return nil, err
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("history: conversion id %q: %w", id, err)
		}
		if c.TaskID, err = uuid.Parse(taskID); err != nil {
			return nil, fmt.Errorf("history: task id %q: %w", taskID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Path, &d.Title, &d.Checksum, &d.OpenedAt, &d.OpenCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
