package formula

import (
	"strings"
	"unicode/utf8"
)

// CommentMarker starts a comment line.
const CommentMarker = "#"

// stripCommentLines blanks every line whose first non-blank text is the
// comment marker. Line numbers are preserved for error reporting.
func stripCommentLines(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), CommentMarker) {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

// rewriteSymbolicOperators replaces &&, || and ! (outside of != and
// string literals) with their keyword forms.
func rewriteSymbolicOperators(src string) string {
	if !strings.ContainsAny(src, "&|!") {
		return src
	}

	var b strings.Builder
	b.Grow(len(src) + 16)

	var quote string // active string delimiter, empty outside strings
	for i := 0; i < len(src); {
		rest := src[i:]

		if quote != "" {
			if rest[0] == '\\' && len(rest) > 1 {
				_, size := utf8.DecodeRuneInString(rest[1:])
				b.WriteString(rest[:1+size])
				i += 1 + size
				continue
			}
			if strings.HasPrefix(rest, quote) {
				b.WriteString(quote)
				i += len(quote)
				quote = ""
				continue
			}
			_, size := utf8.DecodeRuneInString(rest)
			b.WriteString(rest[:size])
			i += size
			continue
		}

		switch {
		case strings.HasPrefix(rest, `"""`), strings.HasPrefix(rest, `'''`):
			quote = rest[:3]
			b.WriteString(quote)
			i += 3
		case rest[0] == '"' || rest[0] == '\'':
			quote = rest[:1]
			b.WriteByte(rest[0])
			i++
		case rest[0] == '#':
			// trailing comment: copy to end of line untouched
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			b.WriteString(rest[:end])
			i += end
		case strings.HasPrefix(rest, "&&"):
			b.WriteString(" and ")
			i += 2
		case strings.HasPrefix(rest, "||"):
			b.WriteString(" or ")
			i += 2
		case rest[0] == '!' && !strings.HasPrefix(rest, "!="):
			// no leading space at line start, where it would read as indentation
			if i > 0 && !strings.ContainsRune(" \t\r\n([{,", rune(src[i-1])) {
				b.WriteByte(' ')
			}
			b.WriteString("not ")
			i++
		default:
			_, size := utf8.DecodeRuneInString(rest)
			b.WriteString(rest[:size])
			i += size
		}
	}
	return b.String()
}
