package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"plain":        {`{"summary":"x"}`, `{"summary":"x"}`},
		"fenced":       {"```json\n{\"summary\":\"x\"}\n```", `{"summary":"x"}`},
		"prose around": {`Sure! Here it is: {"tags":["a","b"]} hope that helps`, `{"tags":["a","b"]}`},
		"brace in str": {`{"summary":"use } carefully"} trailing`, `{"summary":"use } carefully"}`},
		"array":        {`result: [1,2,3]`, `[1,2,3]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ExtractJSON(tc.in)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, got)
		})
	}
}

func TestExtractJSONNoJSON(t *testing.T) {
	_, err := ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSONFound)

	_, err = ExtractJSON("   ")
	assert.ErrorIs(t, err, ErrNoJSONFound)
}

func TestExtractJSONTo(t *testing.T) {
	var out struct {
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
	}
	require.NoError(t, ExtractJSONTo("```\n{\"summary\":\"s\",\"tags\":[\"t\"]}\n```", &out))
	assert.Equal(t, "s", out.Summary)
	assert.Equal(t, []string{"t"}, out.Tags)
}
