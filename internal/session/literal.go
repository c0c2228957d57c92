package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseLiteral parses user text as a single JSON literal: null, true/false,
// a number, a quoted string, an array, or an object. Numbers are kept as
// json.Number so they re-encode exactly as typed. Anything else is a user
// error, reported inline by the caller.
func ParseLiteral(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty value")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("not a JSON literal: %w", err)
	}
	if rest := strings.TrimSpace(trimmed[dec.InputOffset():]); rest != "" {
		return nil, fmt.Errorf("trailing content %q after literal", rest)
	}
	return v, nil
}
