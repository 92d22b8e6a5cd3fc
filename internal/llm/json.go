package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSONObject = errors.New("no JSON object in model output")

// Validator is implemented by structured responses that check their own
// invariants after decoding.
type Validator interface {
	Validate() error
}

// ExtractObject returns the first balanced {...} block of text. Braces
// inside JSON strings are ignored, so prose and markdown fences around the
// object are tolerated.
func ExtractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text[start:]); end > 0 {
			return text[start : start+end], nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSONObject
}

// matchBrace returns the length of the object starting at s[0], or -1 if
// it never closes.
func matchBrace(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
				return i + 1
			}
		}
	}
	return -1
}

// Decode extracts the first JSON object from model output into v and runs
// v's Validate method when it has one.
func Decode(text string, v any) error {
	obj, err := ExtractObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("invalid model output: %w", err)
		}
	}
	return nil
}
