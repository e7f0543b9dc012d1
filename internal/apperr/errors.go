// Package apperr holds the sentinel errors shared across mdview packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("closed")

	ErrNoDocument        = errors.New("no document open")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrBusy              = errors.New("task already in progress")
	ErrNotInstalled      = errors.New("converter not installed")

	ErrInvalidPosition    = errors.New("invalid position")
	ErrPositionNotFound   = errors.New("cannot find position")
	ErrPositionUnparsable = errors.New("cannot parse position")
)
