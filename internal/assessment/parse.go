package assessment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SyntaxError reports why strict parsing rejected a document.
type SyntaxError struct {
	Offset int64
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Msg)
}

// Parse decodes text as a single JSON object without any leniency. Numbers
// are kept as json.Number.
func Parse(text string) (Record, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, syntaxError(err, decoder.InputOffset())
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, &SyntaxError{Offset: decoder.InputOffset(), Msg: "unexpected data after top-level value"}
	}

	object, ok := value.(map[string]any)
	if !ok {
		return nil, &SyntaxError{Offset: 0, Msg: fmt.Sprintf("top-level value is %s, not an object", kindOf(value))}
	}
	return Record(object), nil
}

func syntaxError(err error, offset int64) *SyntaxError {
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		return &SyntaxError{Offset: syntax.Offset, Msg: syntax.Error()}
	}
	if errors.Is(err, io.EOF) {
		return &SyntaxError{Offset: offset, Msg: "empty document"}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &SyntaxError{Offset: offset, Msg: "unexpected end of document"}
	}
	return &SyntaxError{Offset: offset, Msg: err.Error()}
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "an array"
	}
	return "unknown"
}
