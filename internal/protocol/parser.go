package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// Decode parses one datagram payload into a typed message. It is the only
// place wire text is interpreted: malformed lines, a missing or unknown
// message_type and missing required fields are all rejected here.
func Decode(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	var (
		fields  []Field
		msgType string
		hasType bool
		started bool
	)

	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			if started {
				break
			}
			continue
		}
		started = true

		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedLine, i+1, line)
		}
		value = strings.TrimSpace(value)

		if key == FieldMessageType {
			msgType = strings.ToUpper(value)
			hasType = true
			continue
		}
		fields = append(fields, Field{Key: key, Value: value})
	}

	if !hasType || msgType == "" {
		return nil, ErrMissingType
	}

	t := MessageType(msgType)
	if !t.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	msg := NewMessage(t)
	for _, f := range fields {
		msg.Set(f.Key, f.Value)
	}

	for _, name := range requiredFields[t] {
		if v, ok := msg.Get(name); !ok || v == "" {
			return nil, &FieldError{Type: t, Field: name, Err: ErrMissingField}
		}
	}

	return msg, nil
}

// Encode serializes a message: message_type first, then the fields in the
// order they were set.
func Encode(m *Message) []byte {
	var buf bytes.Buffer
	buf.WriteString(FieldMessageType)
	buf.WriteString(": ")
	buf.WriteString(string(m.Type))
	buf.WriteByte('\n')
	for _, f := range m.fields {
		buf.WriteString(f.Key)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
