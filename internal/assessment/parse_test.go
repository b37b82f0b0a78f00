package assessment

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAcceptsObject(t *testing.T) {
	record, err := Parse(` {"summary": "x", "final_score": 7.5} `)
	require.NoError(t, err)
	require.Equal(t, Record{"summary": "x", "final_score": json.Number("7.5")}, record)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"trailing data":  `{"a": 1} {"b": 2}`,
		"array":          `[1, 2]`,
		"string":         `"hello"`,
		"missing value":  `{"a": }`,
		"single quotes":  `{'a': 1}`,
		"trailing comma": `{"a": 1,}`,
		"truncated":      `{"a": [1, 2`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			record, err := Parse(input)
			require.Nil(t, record)

			var syntax *SyntaxError
			require.True(t, errors.As(err, &syntax), "got %T", err)
			require.NotEmpty(t, syntax.Msg)
		})
	}
}

func TestParseReportsOffset(t *testing.T) {
	_, err := Parse(`{"a": 1, "b": ?}`)
	var syntax *SyntaxError
	require.ErrorAs(t, err, &syntax)
	require.GreaterOrEqual(t, syntax.Offset, int64(14))
	require.Contains(t, syntax.Error(), "invalid character")
}
