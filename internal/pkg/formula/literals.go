package formula

import "strings"

// NormalizeLiterals rewrites decimal integer literals as doubles ("12" becomes
// "12.0"). String literals, identifiers, hex and unsigned literals are copied
// unchanged.
func NormalizeLiterals(expr string) string {
	var b strings.Builder
	b.Grow(len(expr) + 8)

	n := len(expr)
	for i := 0; i < n; {
		c := expr[i]

		switch {
		case c == '"' || c == '\'':
			end := skipString(expr, i)
			b.WriteString(expr[i:end])
			i = end

		case isIdentStart(c):
			j := i
			for j < n && isIdentPart(expr[j]) {
				j++
			}
			b.WriteString(expr[i:j])
			i = j

		case isDigit(c):
			end, integer := scanNumber(expr, i)
			b.WriteString(expr[i:end])
			if integer && !(i > 0 && expr[i-1] == '.') {
				b.WriteString(".0")
			}
			i = end

		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String()
}

// scanNumber returns the end of the numeric literal starting at i and whether
// it is a plain decimal integer.
func scanNumber(expr string, i int) (int, bool) {
	n := len(expr)

	if expr[i] == '0' && i+1 < n && (expr[i+1] == 'x' || expr[i+1] == 'X') {
		j := i + 2
		for j < n && isHexDigit(expr[j]) {
			j++
		}
		if j < n && (expr[j] == 'u' || expr[j] == 'U') {
			j++
		}
		return j, false
	}

	j := i
	for j < n && isDigit(expr[j]) {
		j++
	}
	integer := true

	if j+1 < n && expr[j] == '.' && isDigit(expr[j+1]) {
		integer = false
		j++
		for j < n && isDigit(expr[j]) {
			j++
		}
	}

	if j < n && (expr[j] == 'e' || expr[j] == 'E') {
		k := j + 1
		if k < n && (expr[k] == '+' || expr[k] == '-') {
			k++
		}
		if k < n && isDigit(expr[k]) {
			integer = false
			j = k
			for j < n && isDigit(expr[j]) {
				j++
			}
		}
	}

	if integer && j < n && (expr[j] == 'u' || expr[j] == 'U') {
		return j + 1, false
	}

	return j, integer
}

// skipString returns the index just past the string literal opening at i.
// Triple-quoted strings are handled; an unterminated literal runs to the end.
func skipString(expr string, i int) int {
	quote := expr[i]
	n := len(expr)

	if i+2 < n && expr[i+1] == quote && expr[i+2] == quote {
		end := strings.Index(expr[i+3:], string([]byte{quote, quote, quote}))
		if end < 0 {
			return n
		}
		return i + 3 + end + 3
	}

	for j := i + 1; j < n; j++ {
		switch expr[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
