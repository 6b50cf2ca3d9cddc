package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyMessage  = errors.New("protocol: empty message")
	ErrMalformedLine = errors.New("protocol: malformed line")
	ErrMissingType   = errors.New("protocol: missing message_type")
	ErrUnknownType   = errors.New("protocol: unknown message type")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidField  = errors.New("invalid field value")
)

// FieldError reports a problem with one named field of a message.
type FieldError struct {
	Type  MessageType
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("protocol: %s.%s: %v", e.Type, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Field is a single key/value pair of a message.
type Field struct {
	Key   string
	Value string
}

// Message is the decoded form of one datagram payload: a type tag plus an
// ordered set of named fields.
type Message struct {
	Type   MessageType
	fields []Field
}

// NewMessage creates an empty message of the given type.
func NewMessage(t MessageType) *Message {
	return &Message{Type: t}
}

// Set assigns a field, replacing any previous value for the same key.
// Line breaks in the value are flattened to spaces so the message stays
// one line per field.
func (m *Message) Set(key, value string) *Message {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	for i := range m.fields {
		if m.fields[i].Key == key {
			m.fields[i].Value = value
			return m
		}
	}
	m.fields = append(m.fields, Field{Key: key, Value: value})
	return m
}

// SetInt assigns an integer field.
func (m *Message) SetInt(key string, v int) *Message {
	return m.Set(key, strconv.Itoa(v))
}

// Get returns the raw value of a field.
func (m *Message) Get(key string) (string, bool) {
	for _, f := range m.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the value of a field or "" when absent.
func (m *Message) Value(key string) string {
	v, _ := m.Get(key)
	return v
}

// Int parses an integer field.
func (m *Message) Int(key string) (int, error) {
	raw, ok := m.Get(key)
	if !ok {
		return 0, &FieldError{Type: m.Type, Field: key, Err: ErrMissingField}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &FieldError{Type: m.Type, Field: key, Err: fmt.Errorf("%w: %q", ErrInvalidField, raw)}
	}
	return v, nil
}

// Uint64 parses an unsigned integer field.
func (m *Message) Uint64(key string) (uint64, error) {
	raw, ok := m.Get(key)
	if !ok {
		return 0, &FieldError{Type: m.Type, Field: key, Err: ErrMissingField}
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &FieldError{Type: m.Type, Field: key, Err: fmt.Errorf("%w: %q", ErrInvalidField, raw)}
	}
	return v, nil
}

// Fields returns a copy of the message fields in insertion order,
// excluding message_type.
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Map returns the fields as a map, including message_type. Used for JSON
// views of relayed messages.
func (m *Message) Map() map[string]string {
	out := make(map[string]string, len(m.fields)+1)
	out[FieldMessageType] = string(m.Type)
	for _, f := range m.fields {
		out[f.Key] = f.Value
	}
	return out
}
