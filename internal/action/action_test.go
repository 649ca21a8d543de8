package action

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(` {"token":"T","action":"move","x":5} `))
	require.NoError(t, err)

	name, ok := msg.Action()
	assert.True(t, ok)
	assert.Equal(t, "move", name)
	assert.Equal(t, "T", msg.Token())

	_, err = Decode([]byte(`{"action":`))
	assert.Error(t, err)

	_, err = Decode([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = Decode([]byte(`null`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = Decode([]byte(``))
	assert.Error(t, err)
}

func TestMessageAction(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"missing", Message{}, false},
		{"empty", Message{"action": ""}, false},
		{"number", Message{"action": 3.0}, false},
		{"list", Message{"action": []interface{}{"move"}}, false},
		{"string", Message{"action": "click"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.msg.Action()
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestMessageNumbers(t *testing.T) {
	msg := Message{"x": 12.9, "y": "40", "bad": "abc", "huge": 1e12, "nil": nil}

	x, err := msg.Int("x")
	require.NoError(t, err)
	assert.Equal(t, 12, x)

	y, err := msg.Int("y")
	require.NoError(t, err)
	assert.Equal(t, 40, y)

	_, err = msg.Int("bad")
	assert.Error(t, err)

	_, err = msg.Int("huge")
	assert.Error(t, err)

	_, err = msg.Int("nil")
	assert.Error(t, err)

	d, err := msg.FloatOr("duration", 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, d)
}

func TestMessageLists(t *testing.T) {
	msg := Message{
		"keys":   []interface{}{"ctrl", "alt", "del"},
		"mixed":  []interface{}{"ctrl", 1.0},
		"region": []interface{}{0.0, 10.0, 100.0, 50.5},
	}

	keys, ok := msg.Strings("keys")
	assert.True(t, ok)
	assert.Equal(t, []string{"ctrl", "alt", "del"}, keys)

	_, ok = msg.Strings("mixed")
	assert.False(t, ok)

	region, ok := msg.Ints("region")
	assert.True(t, ok)
	assert.Equal(t, []int{0, 10, 100, 50}, region)
}

func TestParamsDropsToken(t *testing.T) {
	params := Message{"token": "secret", "action": "type", "text": "hi"}.Params()
	assert.NotContains(t, params, "token")
	assert.Equal(t, "hi", params["text"])
}

func TestEnvelopeJSON(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want string
	}{
		{"ok", OK(map[string]interface{}{"foo": 1}), `{"status":"ok","result":{"foo":1}}`},
		{"ok empty", OK(nil), `{"status":"ok","result":{}}`},
		{"error no details", Err(CodeUnauthorized, nil), `{"status":"error","error":{"message":"unauthorized"}}`},
		{"error details", Err(CodeUnsupportedAction, "Action 'x' not supported"),
			`{"status":"error","error":{"message":"unsupported_action","details":"Action 'x' not supported"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, OK(map[string]interface{}{"foo": 1}), Normalize(map[string]interface{}{"foo": 1}))

	wrapped := Normalize(map[string]interface{}{"status": "ok", "result": map[string]interface{}{"a": true}})
	assert.Equal(t, OK(map[string]interface{}{"a": true}), wrapped)

	failed := Normalize(map[string]interface{}{
		"status": "error",
		"error":  map[string]interface{}{"message": "invalid_params", "details": "Requires 'x'"},
	})
	assert.Equal(t, CodeInvalidParams, failed.Code())
	assert.Equal(t, "Requires 'x'", failed.Error.Details)

	// "status" alone is a plain result field, not an envelope
	plain := Normalize(map[string]interface{}{"status": "ok", "extra": 1})
	assert.Equal(t, StatusOK, plain.Status)
	assert.Equal(t, map[string]interface{}{"status": "ok", "extra": 1}, plain.Result)

	assert.Equal(t, OK([]int{1, 2}), Normalize([]int{1, 2}))
	assert.Equal(t, OK(nil), Normalize((*Response)(nil)))
}

func TestFailure(t *testing.T) {
	var err error = InvalidParams("Requires %q", "key")

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, CodeInvalidParams, failure.Code)
	assert.Equal(t, `invalid_params: Requires "key"`, err.Error())
	assert.Equal(t, Err(CodeInvalidParams, `Requires "key"`), failure.Response())
}
