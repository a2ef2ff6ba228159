package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// ErrNoJSONFound is returned when no valid JSON object/array is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object or array found in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// ExtractJSON pulls the first valid JSON object or array out of a model reply
// that may be wrapped in markdown fences or surrounded by prose.
func ExtractJSON(reply string) (string, error) {
	if strings.TrimSpace(reply) == "" {
		return "", ErrNoJSONFound
	}

	cleaned := stripMarkdown(reply)

	candidates := []string{
		matchBrackets(cleaned),
		cleaned,
		outermost(reply, '{', '}'),
		outermost(reply, '[', ']'),
		stripControl(outermost(cleaned, '{', '}')),
	}
	for _, candidate := range candidates {
		if candidate != "" && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	log.Debugw("[JSON] no valid JSON in model reply", "length", len(reply))
	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(reply))
}

// ExtractJSONTo extracts JSON from a reply and unmarshals it into target
func ExtractJSONTo(reply string, target interface{}) error {
	jsonStr, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(jsonStr), target)
}

func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlock.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// matchBrackets returns the first balanced object or array, honouring string escapes.
func matchBrackets(s string) string {
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func outermost(s string, open, closing byte) string {
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, closing)
	if first == -1 || last <= first {
		return ""
	}
	return s[first : last+1]
}

// stripControl drops non printable characters some models emit inside JSON.
func stripControl(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
