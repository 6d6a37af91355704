package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/chameleoncloud/doni/internal/httpclient"
)

// ErrUnknownWorker is returned when a configuration names a worker that is
// not registered.
var ErrUnknownWorker = errors.New("unknown worker")

// Kind classifies a worker failure.
type Kind int

const (
	// KindTransient failures are retried with backoff.
	KindTransient Kind = iota + 1
	// KindTerminal failures park the record in ERROR until it is reset.
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Error is a classified worker failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Transientf formats a transient error.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Terminal marks err as requiring operator attention.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTerminal, Err: err}
}

// Terminalf formats a terminal error.
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

// KindOf returns the classification of err, if any.
func KindOf(err error) (Kind, bool) {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind, true
	}
	return 0, false
}

// Classify wraps an error returned by an httpclient call. Transport failures,
// cancellation, 408, 429 and 5xx become transient; other API errors are
// terminal. Errors that are already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || httpclient.IsTransient(err) {
		return Transient(err)
	}
	return Terminal(err)
}
