package entry

import (
	"errors"
	"strings"
)

// Kind classifies entry errors.
type Kind int

const (
	KindIO Kind = iota
	KindNotFound
	KindCorrupt
	KindBounds
	KindCollision
	KindUnsupported
)

var (
	ErrPathNotFound = errors.New("path not found")
	ErrCorrupt      = errors.New("corrupt structure")
	ErrOutOfRange   = errors.New("out of range")
	ErrCollision    = errors.New("name collision")
	ErrUnsupported  = errors.New("unsupported")
	ErrIO           = errors.New("i/o error")
)

var kindErrors = map[Kind]error{
	KindIO:          ErrIO,
	KindNotFound:    ErrPathNotFound,
	KindCorrupt:     ErrCorrupt,
	KindBounds:      ErrOutOfRange,
	KindCollision:   ErrCollision,
	KindUnsupported: ErrUnsupported,
}

// Fatal reports kinds that abort a whole operation rather than one entry.
func (k Kind) Fatal() bool { return k == KindIO || k == KindCorrupt }

// Error names the path an operation failed on.
type Error struct {
	Kind Kind
	Path []string
	Err  error
}

// NewError wraps err for path.
func NewError(kind Kind, path []string, err error) *Error {
	return &Error{Kind: kind, Path: append([]string(nil), path...), Err: err}
}

func (e *Error) Error() string {
	msg := "/" + strings.Join(e.Path, "/") + ": " + kindErrors[e.Kind].Error()
	if e.Err != nil && e.Err != kindErrors[e.Kind] {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool { return kindErrors[e.Kind] == target }

// KindOf returns the kind of err, KindIO for errors that carry none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}
