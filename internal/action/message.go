package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reserved message fields.
const (
	FieldAction = "action"
	FieldToken  = "token"
)

// ErrNotObject is returned by Decode when the frame is valid JSON but not an object.
var ErrNotObject = errors.New("expected a JSON object")

// Message is one decoded inbound command. Fields other than action and token are
// interpreted by the selected handler only.
type Message map[string]interface{}

// Decode parses one frame into a Message.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("invalid JSON frame")
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNotObject
	}
	return msg, nil
}

// Action returns the action name and whether it is a non-empty string.
func (m Message) Action() (string, bool) {
	name, ok := m[FieldAction].(string)
	return name, ok && name != ""
}

// Token returns the token field, or "" when absent or not a string.
func (m Message) Token() string {
	token, _ := m[FieldToken].(string)
	return token
}

// Has reports whether key is present and not null.
func (m Message) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// String returns a string parameter.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// StringOr returns a string parameter or def when absent or not a string.
func (m Message) StringOr(key, def string) string {
	if s, ok := m.String(key); ok {
		return s
	}
	return def
}

// Text returns a parameter rendered as text: strings as-is, numbers and booleans
// formatted. Used for key names, which clients may send as numbers ("1").
func (m Message) Text(key string) (string, bool) {
	switch v := m[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// Float returns a numeric parameter. Numeric strings are accepted.
func (m Message) Float(key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%q is not a number", key)
	}
}

// FloatOr returns a numeric parameter or def when absent.
func (m Message) FloatOr(key string, def float64) (float64, error) {
	if !m.Has(key) {
		return def, nil
	}
	return m.Float(key)
}

// Int returns a numeric parameter truncated toward zero.
func (m Message) Int(key string) (int, error) {
	f, err := m.Float(key)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%q is out of range", key)
	}
	return int(f), nil
}

// IntOr returns an integer parameter or def when absent.
func (m Message) IntOr(key string, def int) (int, error) {
	if !m.Has(key) {
		return def, nil
	}
	return m.Int(key)
}

// Strings returns a list-of-strings parameter.
func (m Message) Strings(key string) ([]string, bool) {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Ints returns a list-of-numbers parameter truncated to integers.
func (m Message) Ints(key string) ([]int, bool) {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for i := range raw {
		n, err := Message{"v": raw[i]}.Int("v")
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// Params returns a copy of the message without the token.
func (m Message) Params() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == FieldToken {
			continue
		}
		out[k] = v
	}
	return out
}
