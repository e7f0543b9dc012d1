// Package task runs one-shot background work (loading a document, converting
// it) off the control loop and reports back through messages.
package task

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/render"
)

// ErrSpent is returned when a task is run a second time.
var ErrSpent = errors.New("task: already run")

// Kind identifies a task type. At most one task of each kind is in flight.
type Kind string

const (
	KindLoad    Kind = "load"
	KindConvert Kind = "convert"
)

// State is a task's position in its state machine.
//
//	load:    Idle → Reading → Transforming → Done | Failed
//	convert: Idle → Invoking → Succeeded | Failed
type State int32

const (
	StateIdle State = iota
	StateReading
	StateTransforming
	StateInvoking
	StateDone
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateTransforming:
		return "transforming"
	case StateInvoking:
		return "invoking"
	case StateDone:
		return "done"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSucceeded || s == StateFailed
}

// Message is what a task emits: progress text on each transition, and a
// result on the terminal one.
type Message struct {
	TaskID uuid.UUID
	Kind   Kind
	State  State
	Text   string

	Load    *LoadResult
	Convert *ConvertResult
}

// Terminal reports whether m is the task's last message.
func (m Message) Terminal() bool {
	return m.State.Terminal()
}

// LoadResult is the payload of a finished load. Document is always set; on
// failure it is the rendered error page.
type LoadResult struct {
	Path     string
	Document *render.Document
	Err      error
}

// Outcome classifies a finished conversion.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"
	OutcomeNotInstalled Outcome = "not_installed"
	OutcomeError        Outcome = "error"
)

// ConvertResult is the payload of a finished conversion.
type ConvertResult struct {
	Request  converter.Request
	Outcome  Outcome
	Message  string
	ExitCode int
	Stderr   string
}

// Task is a one-shot unit of background work.
type Task interface {
	ID() uuid.UUID
	Kind() Kind
	State() State
	// Run blocks until the task finishes. Failures of the work itself are
	// reported through a terminal message, never as the returned error.
	Run(ctx context.Context, emit func(Message)) error
}

// base holds the bookkeeping shared by every task kind.
type base struct {
	id      uuid.UUID
	kind    Kind
	state   atomic.Int32
	started atomic.Bool
}

func (b *base) init(kind Kind) {
	b.id = uuid.New()
	b.kind = kind
}

func (b *base) ID() uuid.UUID { return b.id }
func (b *base) Kind() Kind    { return b.kind }
func (b *base) State() State  { return State(b.state.Load()) }

func (b *base) claim() error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrSpent
	}
	return nil
}

func (b *base) enter(s State, text string, emit func(Message)) Message {
	b.state.Store(int32(s))
	m := Message{TaskID: b.id, Kind: b.kind, State: s, Text: text}
	if !s.Terminal() {
		emit(m)
	}
	return m
}
