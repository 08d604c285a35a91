package canonical

import "errors"

type ErrorKind string

const (
	KindBadRequest         ErrorKind = "bad_request"
	KindUpstream           ErrorKind = "upstream_error"
	KindUnsupportedDialect ErrorKind = "unsupported_dialect"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrBadRequest         = &Error{Kind: KindBadRequest}
	ErrUpstream           = &Error{Kind: KindUpstream}
	ErrUnsupportedDialect = &Error{Kind: KindUnsupportedDialect}
)

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf reports the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
