// internal/common/jsonx/extract.go

// Package jsonx extracts JSON spans from LLM output. The oracle is not
// trusted to return bare JSON: it may wrap the payload in prose or markdown
// fences, so callers scan for the first balanced span instead of decoding
// the whole response.
package jsonx

import (
	"encoding/json"
	"errors"
)

var (
	ErrNoObject = errors.New("no JSON object found")
	ErrNoArray  = errors.New("no JSON array found")
)

// ExtractObject returns the first balanced {...} span in s, decoded into
// dst. The scan is string-aware: braces inside JSON strings do not count.
func ExtractObject(s string, dst interface{}) error {
	span, ok := scan(s, '{', '}')
	if !ok {
		return ErrNoObject
	}
	return json.Unmarshal(span, dst)
}

// ExtractArray returns the first balanced [...] span in s, decoded into dst.
func ExtractArray(s string, dst interface{}) error {
	span, ok := scan(s, '[', ']')
	if !ok {
		return ErrNoArray
	}
	return json.Unmarshal(span, dst)
}

// scan finds the first balanced open..close span, skipping string literals
// and escape sequences.
func scan(s string, open, close byte) ([]byte, bool) {
	start := -1
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
			if depth > 0 {
				inString = true
			}
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), true
			}
		}
	}

	return nil, false
}
