package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"prose around", `Sure! {"a":1} hope that helps`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`},
		{"brace in string", `{"s":"}{"} trailing }`, `{"s":"}{"}`},
		{"escaped quote", `{"s":"a\"}b"}`, `{"s":"a\"}b"}`},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`},
		{"unbalanced first", `{ oops {"a":1}`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractObject(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractObjectMissing(t *testing.T) {
	for _, in := range []string{"", "no json here", "{ never closed"} {
		_, err := ExtractObject(in)
		assert.ErrorIs(t, err, ErrNoJSONObject, in)
	}
}

type pick struct {
	Index int `json:"index"`
}

func (p *pick) Validate() error {
	if p.Index < 0 {
		return errors.New("negative index")
	}
	return nil
}

func TestDecodeValidates(t *testing.T) {
	var p pick
	require.NoError(t, Decode(`result: {"index": 2}`, &p))
	assert.Equal(t, 2, p.Index)

	err := Decode(`{"index": -1}`, &p)
	assert.ErrorContains(t, err, "negative index")

	err = Decode(`{"index": "two"}`, &p)
	assert.ErrorContains(t, err, "decode model output")
}
