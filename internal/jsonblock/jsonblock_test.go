package jsonblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose around", "Sure! Here you go:\n{\"a\":1}\nHope that helps {not json}", `{"a":1}`, true},
		{"nested", `x {"a":{"b":{"c":2}}} y`, `{"a":{"b":{"c":2}}}`, true},
		{"brace in string", `{"s":"a } b { c"}`, `{"s":"a } b { c"}`, true},
		{"escaped quote in string", `{"s":"say \"}\" now"}`, `{"s":"say \"}\" now"}`, true},
		{"fenced", "```json\n{\"verdict\":\"PASS\"}\n```", `{"verdict":"PASS"}`, true},
		{"truncated", `{"a":[1,2`, "", false},
		{"unbalanced then inner", `{"a":{"b":1}`, `{"b":1}`, true},
		{"no object", "plain text", "", false},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeObjectLenientAccessors(t *testing.T) {
	obj, err := DecodeObject(`Result: {"type":" intent ","queries":["listTasks", 3, "", "getStats"],"feasible":false,"nested":{"k":"v"},"list":[{"x":1},"y"]}`)
	require.NoError(t, err)

	assert.Equal(t, "intent", obj.String("type"))
	assert.Equal(t, []string{"listTasks", "getStats"}, obj.Strings("queries"))
	assert.Equal(t, []string{}, obj.Strings("missing"))

	b, ok := obj.Bool("feasible")
	assert.True(t, ok)
	assert.False(t, b)

	nested, ok := obj.Object("nested")
	require.True(t, ok)
	assert.Equal(t, "v", nested.String("k"))
	assert.Len(t, obj.Objects("list"), 1)
}

func TestDecodeObjectFailures(t *testing.T) {
	_, err := DecodeObject("no braces here")
	assert.ErrorIs(t, err, ErrNoObject)

	_, err = DecodeObject(`{"a": tru}`)
	assert.Error(t, err)
}

func TestDecodeSkipsNonJSONBraces(t *testing.T) {
	obj, err := DecodeObject(`Use {curly} placeholders. {"verdict":"FAIL"}`)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", obj.String("verdict"))
}

func TestStringsAcceptsSingleString(t *testing.T) {
	obj := Object{"keywords": " tasks "}
	assert.Equal(t, []string{"tasks"}, obj.Strings("keywords"))
}
