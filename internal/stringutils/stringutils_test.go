package stringutils

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestIndentString(t *testing.T) {
	assert.Equal(t, "  ## 1.0\n  - fix", IndentString("## 1.0\n- fix", "  "))
	assert.Equal(t, "", IndentString("", "  "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...", Truncate("abc", 2))
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	// each umlaut is 2 bytes long
	res := Truncate("äöü", 3)
	assert.Equal(t, "ä...", res)
	assert.True(t, utf8.ValidString(res))

	assert.Equal(t, "...", Truncate("äöü", 1))
	assert.Equal(t, "äö...", Truncate("äöü", 4))
}
