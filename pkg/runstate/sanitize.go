package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxInputSize bounds the JSON encoding of a run's start input.
const DefaultMaxInputSize = 64 << 10

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeInput cleans external run input: it enforces a size limit on the
// encoded input, rejects invalid UTF-8 and strips control characters other
// than newline, tab and carriage return from every string, keys included.
// The input is not modified; a cleaned copy is returned.
func SanitizeInput(input map[string]any, limit int) (map[string]any, error) {
	if input == nil {
		return nil, nil
	}
	if limit > 0 {
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("input is not serializable: %w", err)
		}
		// Oversized input is rejected rather than truncated, so the run
		// state is exactly what the caller sent.
		if len(data) > limit {
			return nil, fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(data), limit)
		}
	}
	out, err := sanitizeValue(input)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func sanitizeValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return sanitizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, sub := range t {
			key, err := sanitizeString(k)
			if err != nil {
				return nil, err
			}
			if out[key], err = sanitizeValue(sub); err != nil {
				return nil, err
			}
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, sub := range t {
			var err error
			if out[i], err = sanitizeValue(sub); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return v, nil
}

func sanitizeString(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}

	// Fast path: if no control chars, return as is.
	clean := true
	for _, r := range s {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
