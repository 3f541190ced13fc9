package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Message is one decoded protocol message: a kind plus its extra fields.
// On the wire it is a JSON object with "type" next to the fields.
type Message struct {
	Kind Kind
	Data map[string]any
}

// NewMessage builds a message from a kind and its fields.
func NewMessage(kind Kind, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{Kind: kind, Data: data}
}

// Decode converts a parsed JSON object into a Message. Both the legacy
// {"level":..., "data":{"type":...}} shape and the flat {"type":...} shape
// are accepted. Anything without a recognised type is KindInvalid.
func Decode(raw map[string]any) Message {
	if _, ok := raw["type"]; !ok {
		if inner, ok := raw["data"].(map[string]any); ok {
			if _, ok := inner["type"]; ok {
				raw = inner
			}
		}
	}

	msg := Message{Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "type" {
			if s, ok := v.(string); ok {
				msg.Kind = ParseKind(s)
			}
			continue
		}
		msg.Data[k] = v
	}
	return msg
}

// DecodeLine parses one JSON line into a Message. Numbers are kept as json.Number.
func DecodeLine(line []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if raw == nil {
		return Message{}, errors.New("failed to decode message: not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Message{}, errors.New("failed to decode message: trailing data")
	}
	return Decode(raw), nil
}

// MarshalJSON flattens Data next to "type".
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Data)+1)
	for k, v := range m.Data {
		out[k] = v
	}
	out["type"] = m.Kind.String()
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	msg, err := DecodeLine(data)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

// FieldError reports a required payload field that is missing or has the wrong type.
type FieldError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q: %v", e.Kind, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ErrMissingField is wrapped by FieldError when the field is absent.
var ErrMissingField = errors.New("missing")

func (m Message) field(name string) (any, error) {
	v, ok := m.Data[name]
	if !ok || v == nil {
		return nil, &FieldError{Kind: m.Kind, Field: name, Err: ErrMissingField}
	}
	return v, nil
}

// IntField reads an integer field. Numeric strings are accepted.
func (m Message) IntField(name string) (int, error) {
	v, err := m.field(name)
	if err != nil {
		return 0, err
	}
	n, err := toInt(v)
	if err != nil {
		return 0, &FieldError{Kind: m.Kind, Field: name, Err: err}
	}
	return n, nil
}

// IntsField reads an array of integers.
func (m Message) IntsField(name string) ([]int, error) {
	v, err := m.field(name)
	if err != nil {
		return nil, err
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []int:
		return append([]int(nil), t...), nil
	default:
		return nil, &FieldError{Kind: m.Kind, Field: name, Err: fmt.Errorf("want array, got %T", v)}
	}
	out := make([]int, len(items))
	for i, item := range items {
		n, err := toInt(item)
		if err != nil {
			return nil, &FieldError{Kind: m.Kind, Field: name, Err: fmt.Errorf("element %d: %w", i, err)}
		}
		out[i] = n
	}
	return out, nil
}

// FloatField reads a numeric field as float64.
func (m Message) FloatField(name string) (float64, error) {
	v, err := m.field(name)
	if err != nil {
		return 0, err
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		err = fmt.Errorf("want number, got %T", v)
	}
	if err != nil {
		return 0, &FieldError{Kind: m.Kind, Field: name, Err: err}
	}
	return f, nil
}

// StringField reads a string field.
func (m Message) StringField(name string) (string, error) {
	v, err := m.field(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Kind: m.Kind, Field: name, Err: fmt.Errorf("want string, got %T", v)}
	}
	return s, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt(f)
	case float64:
		return floatToInt(t)
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case int32:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

func floatToInt(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int(f), nil
}
