package ptyscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateControlChars_CtrlSequence(t *testing.T) {
	got := translateControlChars("^C", false)
	assert.Equal(t, []byte{0x03}, got)
}

func TestTranslateControlChars_EscapedCaretIsLiteral(t *testing.T) {
	got := translateControlChars(`\^C`, false)
	assert.Equal(t, []byte("^C"), got)
}

func TestTranslateControlChars_RawModeBypassesTranslation(t *testing.T) {
	got := translateControlChars("^C", true)
	assert.Equal(t, []byte("^C"), got)
}

func TestTranslateControlChars_NonControlCaretPassesThrough(t *testing.T) {
	got := translateControlChars("^z", false)
	assert.Equal(t, []byte("^z"), got)
}
