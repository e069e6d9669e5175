package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeText_RoundTrip(t *testing.T) {
	inputs := []string{
		"plain text",
		"line one\nline two",
		"carriage\rreturn",
		"back\\slash",
		"mixed\\n literal and real\n newline",
		"",
	}
	for _, in := range inputs {
		escaped := EscapeText(in)
		assert.False(t, strings.ContainsAny(escaped, "\n\r"), "escaped %q still holds line breaks", in)
		assert.Equal(t, in, UnescapeText(escaped), "round trip of %q", in)
	}
}

func TestEscapeText_Sequences(t *testing.T) {
	assert.Equal(t, `a\nb`, EscapeText("a\nb"))
	assert.Equal(t, `a\rb`, EscapeText("a\rb"))
	assert.Equal(t, `a\\b`, EscapeText(`a\b`))
}
