// Package jsonx extracts and decodes JSON objects embedded in model output.
//
// Models asked for JSON frequently wrap it in markdown fences or surround it
// with prose. Extract locates the first complete, valid JSON object in the
// text; Decode additionally validates it against a schema and unmarshals it.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcouncil/internal/schema"
	"github.com/tidwall/gjson"
)

// ErrNoObject is returned when the text contains no valid JSON object.
var ErrNoObject = errors.New("no JSON object found in response")

// Extract returns the first valid JSON object contained in text.
func Extract(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject() {
		return trimmed, nil
	}

	for start := strings.IndexByte(trimmed, '{'); start >= 0; {
		if end := matchBrace(trimmed, start); end > start {
			candidate := trimmed[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(trimmed[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoObject
}

// matchBrace returns the index of the brace closing the one at start,
// honoring JSON string literals, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Decode extracts the JSON object from text, validates it against the schema
// derived from out's type and unmarshals it into out. It returns the raw
// object for callers that retain it.
func Decode(text string, out any) (json.RawMessage, error) {
	obj, err := Extract(text)
	if err != nil {
		return nil, err
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(obj), &generic); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if err := schema.Validate(generic, schema.For(out)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return json.RawMessage(obj), nil
}

// Get returns the value at path within the first JSON object in text.
func Get(text, path string) (gjson.Result, error) {
	obj, err := Extract(text)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.Get(obj, path), nil
}
