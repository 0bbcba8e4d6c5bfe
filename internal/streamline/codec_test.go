package streamline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sockline/infrastructure"
)

func TestParseScalarLiterals(t *testing.T) {
	assert.Equal(t, true, Parse("true"))
	assert.Equal(t, false, Parse("False"))
	assert.Nil(t, Parse("null"))
	assert.Nil(t, Parse("undefined"))

	nan, ok := Parse("NaN").(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(nan))

	inf, ok := Parse("Infinity").(float64)
	require.True(t, ok)
	assert.True(t, math.IsInf(inf, 1))
}

func TestParseNumbers(t *testing.T) {
	assert.Equal(t, 3.14, Parse("3.14"))
	assert.Equal(t, float64(-42), Parse("-42"))

	// Long digit runs (phone numbers, ids) stay strings.
	assert.Equal(t, "12345678901234567890", Parse("12345678901234567890"))
}

func TestParsePlainStringsPassThrough(t *testing.T) {
	assert.Equal(t, "hello world", Parse("hello world"))
	assert.Equal(t, "not:json", Parse("not:json"))
}

func TestParseInvalidJSONReturnsOriginal(t *testing.T) {
	assert.Equal(t, `{"broken":`, Parse(`{"broken":`))
	assert.Equal(t, `[1, 2,`, Parse(`[1, 2,`))
}

func TestParseStripsPrototypePollution(t *testing.T) {
	out, ok := Parse(`{"a":1,"__proto__":{"polluted":true}}`).(map[string]any)
	require.True(t, ok)
	assert.Contains(t, out, "a")
	assert.NotContains(t, out, "__proto__")

	out, ok = Parse(`{"constructor":{"prototype":{"x":1}}}`).(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, out, "constructor")

	// A constructor key without a prototype body is ordinary data.
	out, ok = Parse(`{"constructor":"builder"}`).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "builder", out["constructor"])
}

func TestParseSanitizesNestedStructures(t *testing.T) {
	out, ok := Parse(`[{"__proto__":{},"keep":true}]`).([]any)
	require.True(t, ok)
	require.Len(t, out, 1)
	obj := out[0].(map[string]any)
	assert.NotContains(t, obj, "__proto__")
	assert.Equal(t, true, obj["keep"])
}

func TestDecodeFrame(t *testing.T) {
	env, err := Decode([]byte(`{"event":"message:send","payload":{"recipient_id":"u2"}}`))
	require.NoError(t, err)
	assert.Equal(t, "message:send", env.Event)
	payload := env.Payload.(map[string]any)
	assert.Equal(t, "u2", payload["recipient_id"])
}

func TestDecodeAcceptsDataAlias(t *testing.T) {
	env, err := Decode([]byte(`{"event":"ping","data":{"n":1}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, env.Payload)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	for _, raw := range []string{
		`"just a string"`,
		`42`,
		`{"payload":{}}`,
		`{"event":""}`,
		`not json at all`,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, infrastructure.ErrMalformedFrame, "input %q", raw)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode("message:sent", map[string]any{"id": "m1"}, map[string]any{"compress": true})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "message:sent", env.Event)
	assert.Equal(t, map[string]any{"id": "m1"}, env.Payload)
	assert.Equal(t, map[string]any{"compress": true}, env.Options)
}

func TestBind(t *testing.T) {
	var dst struct {
		RecipientID string `json:"recipient_id"`
		Type        string `json:"type"`
	}
	err := Bind(map[string]any{"recipient_id": "u2", "type": "text"}, &dst)
	require.NoError(t, err)
	assert.Equal(t, "u2", dst.RecipientID)
	assert.Equal(t, "text", dst.Type)
}
