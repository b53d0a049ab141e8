package llm

import (
	"encoding/json"
	"strings"
)

// StripCodeFences removes a surrounding markdown code fence, with or without
// a language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSONArray finds a JSON array in a model reply. The widest bracketed
// span is tried first, then each balanced top-level span in order.
func ExtractJSONArray(text string) (json.RawMessage, bool) {
	s := StripCodeFences(text)

	first := strings.IndexByte(s, '[')
	last := strings.LastIndexByte(s, ']')
	if first == -1 || last <= first {
		return nil, false
	}
	if candidate := s[first : last+1]; json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), true
	}

	depth, start := 0, -1
	for i := range len(s) {
		switch s[i] {
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				if segment := s[start : i+1]; json.Valid([]byte(segment)) {
					return json.RawMessage(segment), true
				}
			}
		}
	}
	return nil, false
}
