package ptyscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteralMatcher_FindsSubstring(t *testing.T) {
	m, err := compileMatcher(MatcherLiteral, "hello")
	require.NoError(t, err)

	start, end, ok := m.Find([]byte("xx hello yy"))
	require.True(t, ok)
	assert.Equal(t, 3, start)
	assert.Equal(t, 8, end)
}

func TestLiteralMatcher_NoMatch(t *testing.T) {
	m, err := compileMatcher(MatcherLiteral, "hello")
	require.NoError(t, err)

	_, _, ok := m.Find([]byte("goodbye"))
	assert.False(t, ok)
}

func TestPosixMatcher_FindsPattern(t *testing.T) {
	m, err := compileMatcher(MatcherPosix, "[0-9]+")
	require.NoError(t, err)

	start, end, ok := m.Find([]byte("id=482 done"))
	require.True(t, ok)
	assert.Equal(t, "482", string([]byte("id=482 done")[start:end]))
}

func TestGlobMatcher_MatchesWholeBuffer(t *testing.T) {
	m, err := compileMatcher(MatcherGlob, "*done*")
	require.NoError(t, err)

	start, end, ok := m.Find([]byte("task is done now"))
	require.True(t, ok)
	assert.Equal(t, 0, start)
	assert.Equal(t, len("task is done now"), end)
}

func TestCompileMatcher_UnknownKindIsError(t *testing.T) {
	_, err := compileMatcher("weird", "x")
	assert.Error(t, err)
}

func TestCompileMatcher_InvalidPosixIsError(t *testing.T) {
	_, err := compileMatcher(MatcherPosix, "(unclosed")
	assert.Error(t, err)
}
