// Package job defines the unit of work executed by the engine's workers.
//
// A Job is deliberately a single-method contract: Execute runs the work
// and returns an Outcome rather than a bare error, so the worker loop
// never needs a type switch to tell "the job failed" from "the job was
// cancelled before it ran" from "the pool is shutting down". Callers
// that already have a func(context.Context) error reach for FromFunc
// instead of implementing Job by hand.
package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/token"
)

// Kind is the closed taxonomy of reasons a Job did not succeed.
type Kind int

const (
	// Ok is the zero value of Kind and denotes successful execution.
	Ok Kind = iota
	// Cancelled means the job's token was signalled before Execute ran.
	Cancelled
	// Timeout means a Dequeue or shutdown deadline elapsed.
	Timeout
	// InvalidArgument means caller misuse (double-start, empty capability set, ...).
	InvalidArgument
	// Unavailable means the pool is shutting down or the queue is closed.
	Unavailable
	// Internal means a bug, panic, or resource exhaustion inside user code.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case Cancelled:
		return "Cancelled"
	case Timeout:
		return "Timeout"
	case InvalidArgument:
		return "InvalidArgument"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Outcome is the result of executing a Job: either success (Kind == Ok)
// or a structured failure carrying a category and a message. Err, when
// set, preserves the original Go error (and its Unwrap chain) behind an
// Internal outcome so callers that want %w-style inspection still can.
type Outcome struct {
	Kind    Kind
	Message string
	Err     error
}

// Success is the canonical Ok outcome.
func Success() Outcome { return Outcome{Kind: Ok} }

// Failuref builds a non-Ok outcome with a formatted message.
func Failuref(kind Kind, format string, args ...interface{}) Outcome {
	return Outcome{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FromError classifies a plain error into an Outcome, preserving it in
// Err. A nil error yields Success. context.Canceled and
// context.DeadlineExceeded map to Cancelled and Timeout respectively,
// since those are the two ways a job's own ctx argument reports "this
// should stop now"; everything else is Internal.
func FromError(err error) Outcome {
	if err == nil {
		return Success()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Outcome{Kind: Cancelled, Message: err.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: Timeout, Message: err.Error(), Err: err}
	default:
		return Outcome{Kind: Internal, Message: err.Error(), Err: err}
	}
}

// IsSuccess reports whether the outcome represents successful execution.
func (o Outcome) IsSuccess() bool { return o.Kind == Ok }

func (o Outcome) Error() string {
	if o.Kind == Ok {
		return ""
	}
	if o.Message != "" {
		return fmt.Sprintf("%s: %s", o.Kind, o.Message)
	}
	return o.Kind.String()
}

// Unwrap exposes the wrapped error, if any, for errors.Is/As interop.
func (o Outcome) Unwrap() error { return o.Err }

// Job is an opaque unit of work. Implementations must not let a panic
// escape Execute uncaught; FromFunc already provides that guarantee for
// callback-style jobs.
type Job interface {
	// Execute performs the work and reports the outcome. Implementations
	// should respect ctx cancellation where the work is interruptible.
	Execute(ctx context.Context) Outcome
	// Name returns a display name used only for telemetry and error
	// messages; it carries no execution semantics.
	Name() string
}

// Cancellable is implemented by jobs carrying a cancellation token
// handle. A worker checks CancellationToken immediately before calling
// Execute and, if it reports cancelled, skips Execute entirely and
// reports a Cancelled outcome. Job implementations with no need for
// per-job cancellation simply don't implement it.
type Cancellable interface {
	CancellationToken() *token.Token
}

// CallbackFunc is the function shape adapted by FromFunc.
type CallbackFunc func(ctx context.Context) error

type callbackJob struct {
	name string
	fn   CallbackFunc
	tok  *token.Token
}

// FromFunc adapts fn to the Job contract. fn is invoked at most once. A
// panic raised inside fn is recovered and reported as an Internal
// outcome instead of propagating across the worker boundary.
func FromFunc(name string, fn CallbackFunc) Job {
	return &callbackJob{name: name, fn: fn}
}

// FromFuncCancellable adapts fn to the Job contract like FromFunc, but
// additionally attaches tok so a worker can observe cancellation and
// skip Execute once tok is signalled.
func FromFuncCancellable(name string, tok *token.Token, fn CallbackFunc) Job {
	return &callbackJob{name: name, fn: fn, tok: tok}
}

func (c *callbackJob) CancellationToken() *token.Token { return c.tok }

func (c *callbackJob) Name() string {
	if c.name == "" {
		return "callback"
	}
	return c.name
}

func (c *callbackJob) Execute(ctx context.Context) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failuref(Internal, "job %q panicked: %v", c.Name(), r)
		}
	}()
	if err := c.fn(ctx); err != nil {
		return FromError(err)
	}
	return Success()
}
