package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{name: "closed block", text: "Sure! <code>return a + b</code> Done.", want: "return a + b", wantOK: true},
		{name: "unterminated runs to end", text: "<code>def f():\n    return 1", want: "def f():\n    return 1", wantOK: true},
		{name: "first block wins", text: "<code>one</code><code>two</code>", want: "one", wantOK: true},
		{name: "whitespace kept", text: "<code>\n  x = 1\n</code>", want: "\n  x = 1\n", wantOK: true},
		{name: "empty block", text: "<code></code>", want: "", wantOK: true},
		{name: "close before open ignored", text: "</code> text <code>y</code>", want: "y", wantOK: true},
		{name: "no marker", text: "I cannot help with that.", wantOK: false},
		{name: "empty text", text: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCode(tt.text, DefaultOpenMarker, DefaultCloseMarker)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCode_CustomMarkers(t *testing.T) {
	got, ok := ExtractCode("```python\nprint(1)\n```", "```python\n", "```")
	assert.True(t, ok)
	assert.Equal(t, "print(1)\n", got)
}
