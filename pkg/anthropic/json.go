package anthropic

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return ""
	}
	s = strings.TrimSpace(s[i+1:])
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSON returns the first top-level JSON array or object in a model
// response. An array cut off by max_tokens is trimmed back to its last
// complete element and closed.
func ExtractJSON(text string) (string, error) {
	s := StripFences(text)
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", eris.New("anthropic: no JSON in response")
	}
	s = s[start:]

	end, lastElem := scanJSON(s)
	if end > 0 {
		return s[:end], nil
	}
	if s[0] == '[' && lastElem > 0 {
		return s[:lastElem] + "]", nil
	}
	return "", eris.New("anthropic: truncated JSON in response")
}

// DecodeList reads a JSON array of T from a model response. An object reply
// is accepted when it wraps the array under key.
func DecodeList[T any](text, key string) ([]T, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(raw, "{") {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, eris.Wrap(err, "anthropic: decode object")
		}
		inner, ok := wrapped[key]
		if !ok {
			return nil, eris.Errorf("anthropic: object reply without %q", key)
		}
		raw = string(inner)
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, eris.Wrap(err, "anthropic: decode array")
	}
	return out, nil
}

// Truncate shortens s to at most n bytes without splitting a UTF-8
// sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// scanJSON walks s (which starts with '[' or '{'). end is the offset just
// past the matching close, or 0 if s is truncated. lastElem is the offset
// just past the last container element closed at depth one.
func scanJSON(s string) (end, lastElem int) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i + 1, lastElem
			}
			if depth == 1 {
				lastElem = i + 1
			}
		}
	}
	return 0, lastElem
}
