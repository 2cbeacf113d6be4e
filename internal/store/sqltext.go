package store

import (
	"strconv"
	"strings"
)

// rewritePlaceholders turns $N into ?N so SQLite binds by explicit index.
// Quoted strings, quoted identifiers and comments are left alone.
func rewritePlaceholders(q string) string {
	if !strings.Contains(q, "$") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q))

	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'' || c == '"':
			j := skipQuoted(q, i, c)
			b.WriteString(q[i:j])
			i = j - 1
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			j := strings.IndexByte(q[i:], '\n')
			if j < 0 {
				j = len(q) - i
			}
			b.WriteString(q[i : i+j])
			i += j - 1
		case c == '$' && i+1 < len(q) && isDigit(q[i+1]):
			b.WriteByte('?')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// skipQuoted returns the index just past the quoted run starting at i.
// A doubled quote character is an escape.
func skipQuoted(q string, i int, quote byte) int {
	for j := i + 1; j < len(q); j++ {
		if q[j] != quote {
			continue
		}
		if j+1 < len(q) && q[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(q)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// leadingVerb returns the first keyword of q, upper-cased.
func leadingVerb(q string) string {
	q = strings.TrimLeft(q, " \t\r\n(")
	end := strings.IndexAny(q, " \t\r\n(;")
	if end < 0 {
		end = len(q)
	}
	return strings.ToUpper(q[:end])
}

func returnsRows(verb, q string) bool {
	switch verb {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return true
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return strings.Contains(strings.ToUpper(q), "RETURNING")
	}
	return false
}

// commandTag synthesizes the tag a PostgreSQL server would report.
func commandTag(verb string, n int64) string {
	count := strconv.FormatInt(n, 10)
	switch verb {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return "SELECT " + count
	case "INSERT", "REPLACE":
		return "INSERT 0 " + count
	case "UPDATE", "DELETE":
		return verb + " " + count
	}
	return verb
}
