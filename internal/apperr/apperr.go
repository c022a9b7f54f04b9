package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to recover locally
// (scan, packet send) or surface the error (storage, configuration).
type Kind int

const (
	KindUnknown Kind = iota
	KindStorage
	KindScan
	KindConfiguration
	KindPacketSend
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindScan:
		return "scan"
	case KindConfiguration:
		return "configuration"
	case KindPacketSend:
		return "packet_send"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a kinded error with an optional underlying cause.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns nil when err is nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
