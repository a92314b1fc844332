package content

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	MalformedHeader ErrorKind = iota
	UnsupportedVersion
	MissingAttribute
	CorruptBuffer
	UnsupportedCodec
	UnsupportedFormat
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedHeader:
		return "MalformedHeader"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case MissingAttribute:
		return "MissingAttribute"
	case CorruptBuffer:
		return "CorruptBuffer"
	case UnsupportedCodec:
		return "UnsupportedCodec"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	}
	return "Unknown"
}

// DecodeError is returned by every decoder. It is local to the tile being decoded.
type DecodeError struct {
	Kind   ErrorKind
	Format Format
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s decode error (%s): %s", e.Format, e.Kind, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Allows errors.Is(err, &DecodeError{Kind: MissingAttribute}) to match on the kind only
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newDecodeError(format Format, kind ErrorKind, msg string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Format: format, Msg: fmt.Sprintf(msg, args...)}
}

func wrapDecodeError(format Format, kind ErrorKind, err error, msg string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Format: format, Msg: fmt.Sprintf(msg, args...), Err: err}
}

// Returns the kind of a decode error, ok is false when err is not a DecodeError
func KindOf(err error) (ErrorKind, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// Returns true if err is a DecodeError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
