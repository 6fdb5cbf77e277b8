package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RepairJSON coerces raw model output into a parseable JSON document. The
// ladder: take the text as-is, unwrap a markdown fence, extract the largest
// balanced {...} or [...] segment, then scrub trailing commas and control
// characters. Returns the first rung that parses.
func RepairJSON(raw string) (string, error) {
	s := trimBOM(strings.TrimSpace(raw))
	if s == "" {
		return "", errors.New("empty model output")
	}

	if json.Valid([]byte(s)) {
		return s, nil
	}

	if inner, ok := stripFirstCodeFence(s); ok {
		inner = strings.TrimSpace(inner)
		if json.Valid([]byte(inner)) {
			return inner, nil
		}
		s = inner
	}

	if seg, ok := extractBalancedJSON(s); ok {
		if json.Valid([]byte(seg)) {
			return seg, nil
		}
		if scrubbed := scrubJSON(seg); json.Valid([]byte(scrubbed)) {
			return scrubbed, nil
		}
	}

	if scrubbed := scrubJSON(s); json.Valid([]byte(scrubbed)) {
		return scrubbed, nil
	}

	return "", errors.New("no parseable JSON in model output")
}

// stripFirstCodeFence unwraps a leading ``` or ~~~ fenced block, tolerating
// an optional language tag such as ```json.
func stripFirstCodeFence(s string) (string, bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	var fence string
	switch {
	case strings.HasPrefix(trim, "```"):
		fence = "```"
	case strings.HasPrefix(trim, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := trim[len(fence):]
	idx := strings.IndexByte(rest, '\n')
	if idx == -1 {
		return "", false
	}
	rest = rest[idx+1:]
	if end := strings.Index(rest, fence); end != -1 {
		return rest[:end], true
	}
	// Models often open a fence and forget to close it.
	return rest, true
}

// extractBalancedJSON scans for the first '{' or '[' and returns the
// balanced segment it opens, tracking strings and escapes so braces inside
// string values do not confuse the count.
func extractBalancedJSON(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if seg, ok := balancedFrom(s, i); ok {
			return seg, true
		}
	}
	return "", false
}

func balancedFrom(s string, start int) (string, bool) {
	var (
		stack    []byte
		inString bool
		escape   bool
	)
	stack = append(stack, s[start])

	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// scrubJSON removes the two defects models produce most: trailing commas
// before a closing brace/bracket and stray control characters.
func scrubJSON(s string) string {
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func trimBOM(s string) string {
	if strings.HasPrefix(s, "\uFEFF") {
		return strings.TrimPrefix(s, "\uFEFF")
	}
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF && utf8.ValidString(s[3:]) {
		return s[3:]
	}
	return s
}
