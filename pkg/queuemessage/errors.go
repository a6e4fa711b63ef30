package queuemessage

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnsupportedTarget is returned by As when T is not a record-like type.
// Only structs and maps with string keys are accepted as decode targets.
var ErrUnsupportedTarget = errors.New("queuemessage: decode target must be a struct or a string-keyed map")

// Stage identifies which step of the text decode failed.
type Stage string

const (
	StageBase64 Stage = "base64"
	StageUTF8   Stage = "utf8"
)

// DecodeError reports a message body that is not valid base64, or whose
// decoded bytes are not valid UTF-8. The input is fixed, so retrying the same
// message cannot succeed.
type DecodeError struct {
	Stage Stage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("queuemessage: %s decode failed: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a JSON payload that does not fit the requested
// type: malformed JSON, a value of the wrong JSON type for a field, or, in
// strict mode, a field the type does not declare.
type SchemaMismatchError struct {
	// Type is the Go type that was being decoded into.
	Type reflect.Type
	// Field is the offending JSON field, when it is known.
	Field string
	Err   error
}

func (e *SchemaMismatchError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("queuemessage: payload does not match %v at field %q: %v", e.Type, e.Field, e.Err)
	}
	return fmt.Sprintf("queuemessage: payload does not match %v: %v", e.Type, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// IsMalformed reports whether err, or any error it wraps, is a DecodeError or
// a SchemaMismatchError. Such messages will never decode no matter how often
// they are redelivered.
func IsMalformed(err error) bool {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return true
	}
	var schemaErr *SchemaMismatchError
	return errors.As(err, &schemaErr)
}
