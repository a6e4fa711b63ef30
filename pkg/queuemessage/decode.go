package queuemessage

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ====================================================================================
// This file contains the decoder: base64 -> UTF-8 -> JSON, stopping at the first
// step that fails. Nothing here holds state, so every function is safe to call
// from any number of goroutines.
// ====================================================================================

var (
	errInvalidUTF8   = errors.New("decoded bytes are not valid UTF-8")
	errNullDocument  = errors.New("payload is a JSON null")
	errEmptyDocument = errors.New("payload is empty")
	errTrailingData  = errors.New("unexpected data after the JSON document")
)

// unknownFieldPrefix is how encoding/json words a DisallowUnknownFields failure.
const unknownFieldPrefix = "json: unknown field "

// UnknownFields selects how As treats JSON fields that the target type does
// not declare.
type UnknownFields string

const (
	// UnknownFieldsIgnore drops unknown fields. Producers can add fields to a
	// message without breaking consumers that have not been upgraded yet.
	UnknownFieldsIgnore UnknownFields = "ignore"
	// UnknownFieldsError fails the decode with a SchemaMismatchError.
	UnknownFieldsError UnknownFields = "error"
)

// ParseUnknownFields converts a configuration string into an UnknownFields
// mode. An empty string selects the default, UnknownFieldsIgnore.
func ParseUnknownFields(s string) (UnknownFields, error) {
	switch UnknownFields(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnknownFieldsIgnore:
		return UnknownFieldsIgnore, nil
	case UnknownFieldsError:
		return UnknownFieldsError, nil
	default:
		return "", fmt.Errorf("queuemessage: unknown fields mode %q must be %q or %q", s, UnknownFieldsIgnore, UnknownFieldsError)
	}
}

type decodeOptions struct {
	unknownFields UnknownFields
}

// Option configures a single call to As.
type Option func(*decodeOptions)

// WithUnknownFields sets the unknown field policy. Any value other than
// UnknownFieldsError behaves as UnknownFieldsIgnore.
func WithUnknownFields(mode UnknownFields) Option {
	return func(o *decodeOptions) {
		o.unknownFields = mode
	}
}

// Strict is shorthand for WithUnknownFields(UnknownFieldsError).
func Strict() Option {
	return WithUnknownFields(UnknownFieldsError)
}

// AsString returns the body of msg as text. The base64 body is decoded and the
// result must be valid UTF-8; it is returned untouched, with no trimming and no
// check that it is JSON.
func AsString(msg Message) (string, error) {
	data, err := decodeText(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// As decodes the body of msg as JSON into a new value of type T. T must be a
// struct or a map with string keys. Unknown fields are ignored unless Strict
// (or WithUnknownFields(UnknownFieldsError)) is passed.
//
// Field names are matched the way encoding/json matches them: json tags first,
// then a case-insensitive match on the Go field name, so camelCase payloads
// populate exported fields without tags.
//
// On failure As returns a nil value and one of *DecodeError,
// *SchemaMismatchError or ErrUnsupportedTarget.
func As[T any](msg Message, opts ...Option) (*T, error) {
	target := reflect.TypeFor[T]()
	if !isRecord(target) {
		return nil, fmt.Errorf("%w: got %v", ErrUnsupportedTarget, target)
	}

	o := decodeOptions{unknownFields: UnknownFieldsIgnore}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := decodeText(msg)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &SchemaMismatchError{Type: target, Err: errEmptyDocument}
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, &SchemaMismatchError{Type: target, Err: errNullDocument}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if o.unknownFields == UnknownFieldsError {
		dec.DisallowUnknownFields()
	}

	var value T
	if err := dec.Decode(&value); err != nil {
		return nil, schemaMismatch(target, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &SchemaMismatchError{Type: target, Err: errTrailingData}
	}
	return &value, nil
}

// decodeText runs the base64 and UTF-8 steps shared by AsString and As.
func decodeText(msg Message) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(msg.MessageText())
	if err != nil {
		return nil, &DecodeError{Stage: StageBase64, Err: err}
	}
	if !utf8.Valid(data) {
		return nil, &DecodeError{Stage: StageUTF8, Err: errInvalidUTF8}
	}
	return data, nil
}

func isRecord(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	default:
		return false
	}
}

// schemaMismatch wraps a JSON decode error, pulling out the field name where
// encoding/json reports one.
func schemaMismatch(target reflect.Type, err error) *SchemaMismatchError {
	mismatch := &SchemaMismatchError{Type: target, Err: err}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		mismatch.Field = typeErr.Field
		return mismatch
	}
	if errors.Is(err, io.EOF) {
		mismatch.Err = io.ErrUnexpectedEOF
		return mismatch
	}
	if quoted, ok := strings.CutPrefix(err.Error(), unknownFieldPrefix); ok {
		if field, unquoteErr := strconv.Unquote(quoted); unquoteErr == nil {
			mismatch.Field = field
		}
	}
	return mismatch
}
