// Package jsonstream implements the Streaming JSON Argument Parser
// (SPEC_FULL.md §4.4): given an append-only accumulator that will
// eventually become well-formed JSON, it extracts the current best value of
// a named field even while quotes are unbalanced or braces are still open.
//
// No library in the example corpus performs tolerant partial-JSON
// extraction (grepped across every retrieved repo); the incremental scanner
// below is hand-written for that reason (see DESIGN.md). Once an
// accumulator is known to be syntactically complete, callers should prefer
// encoding/json or github.com/tidwall/gjson over these functions — both are
// used by the chat orchestrator's final-state (Complete) parses.
package jsonstream

import "strings"

// findKey returns the index immediately after the colon that follows the
// quoted key fieldName in s, or -1 if the key has not appeared yet (or only
// partially appeared). It does not attempt to distinguish a key occurrence
// inside a string value from a real key — identical to how the teacher's
// corpus has no partial-JSON tool for this, this is a best-effort scan
// sufficient for the flat, known tool-argument shapes this parser sees.
func findKey(s, fieldName string) int {
	needle := `"` + fieldName + `"`
	idx := strings.Index(s, needle)
	if idx < 0 {
		return -1
	}
	i := idx + len(needle)
	// Skip whitespace then the colon, then whitespace.
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i >= len(s) || s[i] != ':' {
		return -1
	}
	i++
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// scanStringValue scans a JSON string literal starting at s[i], which must
// be the opening quote. It tolerates an unterminated trailing string (no
// closing quote yet arrived) and returns the best-effort unescaped content
// along with whether the literal was terminated.
func scanStringValue(s string, i int) (value string, terminated bool, ok bool) {
	if i >= len(s) || s[i] != '"' {
		return "", false, false
	}
	var b strings.Builder
	i++
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"':
			return b.String(), true, true
		case c == '\\':
			if i+1 >= len(s) {
				// Trailing, unterminated escape: drop it, string not closed.
				return b.String(), false, true
			}
			esc := s[i+1]
			switch esc {
			case '"', '\\', '/':
				b.WriteByte(esc)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'u':
				if i+6 <= len(s) {
					if r, valid := decodeUnicodeEscape(s[i+2 : i+6]); valid {
						b.WriteRune(r)
						i += 6
						continue
					}
				}
				// Not enough bytes yet for a full \uXXXX escape: stop here,
				// string not closed.
				return b.String(), false, true
			default:
				b.WriteByte(esc)
			}
			i += 2
			continue
		default:
			b.WriteByte(c)
			i++
		}
	}
	// Reached end of buffer while still inside the string literal.
	return b.String(), false, true
}

func decodeUnicodeEscape(hex string) (rune, bool) {
	var r rune
	for _, c := range hex {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, false
		}
	}
	return r, true
}

// extractField locates fieldName in s and returns the current best value of
// its string literal, or ok=false if the field has not started yet.
func extractField(s, fieldName string) (value string, ok bool) {
	i := findKey(s, fieldName)
	if i < 0 || i >= len(s) {
		return "", false
	}
	v, _, found := scanStringValue(s, i)
	return v, found
}

// extractObjects scans a streamed `"arrayField": [ {...}, {...} ]` shape and
// returns the raw text of each object encountered so far, tolerating the
// last object being unterminated (no closing brace has arrived yet).
func extractObjects(s, arrayField string) []string {
	i := findKey(s, arrayField)
	if i < 0 || i >= len(s) || s[i] != '[' {
		return nil
	}
	i++

	var objs []string
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			break
		}
		if s[i] == ']' {
			break
		}
		if s[i] != '{' {
			break
		}
		start := i
		end, complete := scanBalancedObject(s, i)
		objs = append(objs, s[start:end])
		if !complete {
			break
		}
		i = end
	}
	return objs
}

// scanBalancedObject scans a JSON object starting at s[start] == '{' and
// returns the exclusive end index of the object and whether it was closed
// within s. When not closed, end == len(s).
func scanBalancedObject(s string, start int) (end int, complete bool) {
	depth := 0
	inString := false
	escaped := false
	i := start
	for i < len(s) {
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
			i++
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
				return i + 1, true
			}
		}
		i++
	}
	return len(s), false
}
