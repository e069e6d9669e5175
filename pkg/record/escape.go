package record

import "strings"

// Free-text attribute values (description, metadata, type) may contain
// literal newlines, but the wire protocol is line-oriented. Values are
// therefore escaped to two-character sequences on output and unescaped on
// input so they survive the framing.

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r", "\\r",
	"\n", "\\n",
)

// EscapeText encodes newline, carriage return and backslash characters so
// the value fits on one protocol line.
func EscapeText(s string) string {
	return escaper.Replace(s)
}

// UnescapeText reverses EscapeText. Unknown escape sequences keep the
// backslash verbatim; a trailing lone backslash is kept as well.
func UnescapeText(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte('\\')
		}
	}
	return b.String()
}
