package capture

import (
	"errors"
	"fmt"
)

// ErrorKind classifies capture failures.
type ErrorKind int

const (
	DeviceNotFound ErrorKind = iota + 1
	InitializationFailed
	ReadError
	UnsupportedFormat
	SystemError
)

func (k ErrorKind) String() string {
	switch k {
	case DeviceNotFound:
		return "device not found"
	case InitializationFailed:
		return "initialization failed"
	case ReadError:
		return "read error"
	case UnsupportedFormat:
		return "unsupported format"
	case SystemError:
		return "system error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// AudioError is returned by capture sessions and backends. Errors of the
// lifecycle kinds are fatal to the session that produced them.
type AudioError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AudioError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AudioError) Unwrap() error {
	return e.Err
}

// Is matches any *AudioError of the same kind, so the sentinel values below
// work with errors.Is.
func (e *AudioError) Is(target error) bool {
	t, ok := target.(*AudioError)
	return ok && t.Kind == e.Kind
}

var (
	ErrDeviceNotFound       = &AudioError{Kind: DeviceNotFound}
	ErrInitializationFailed = &AudioError{Kind: InitializationFailed}
	ErrReadError            = &AudioError{Kind: ReadError}
	ErrUnsupportedFormat    = &AudioError{Kind: UnsupportedFormat}
	ErrSystemError          = &AudioError{Kind: SystemError}
)

func newError(kind ErrorKind, op string, err error) *AudioError {
	return &AudioError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first AudioError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var ae *AudioError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// asAudioError keeps an existing AudioError kind and wraps anything else
// with the fallback kind.
func asAudioError(fallback ErrorKind, op string, err error) *AudioError {
	var ae *AudioError
	if errors.As(err, &ae) {
		return ae
	}
	return newError(fallback, op, err)
}
