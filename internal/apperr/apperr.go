// Package apperr classifies failures so the bridge can report them as
// structured results instead of letting them escape to the UI.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure category reported to the UI.
type Kind string

const (
	KindConfig     Kind = "config"
	KindTransport  Kind = "transport"
	KindProtocol   Kind = "protocol"
	KindExternal   Kind = "external"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

var (
	ErrNoSuchPeer      = errors.New("no such peer")
	ErrMissingAPIKey   = errors.New("OpenAI API key is not configured")
	ErrNoActiveRoom    = errors.New("no active room")
	ErrMalformedSignal = errors.New("malformed signal")
	ErrUnknownSource   = errors.New("unknown screen source")
)

// Error carries the operation that failed and its category.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) *Error     { return New(KindConfig, op, err) }
func Transport(op string, err error) *Error  { return New(KindTransport, op, err) }
func Protocol(op string, err error) *Error   { return New(KindProtocol, op, err) }
func External(op string, err error) *Error   { return New(KindExternal, op, err) }
func NotFound(op string, err error) *Error   { return New(KindNotFound, op, err) }
func Validation(op string, err error) *Error { return New(KindValidation, op, err) }

// KindOf reports the category of err. Errors that were never classified
// are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, ErrNoSuchPeer), errors.Is(err, ErrUnknownSource):
		return KindNotFound
	case errors.Is(err, ErrMissingAPIKey):
		return KindConfig
	case errors.Is(err, ErrMalformedSignal):
		return KindProtocol
	}
	return KindInternal
}
