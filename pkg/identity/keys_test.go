package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// knownSHA1Hello is the SHA1 of "hello\nworld\n".
const knownSHA1Hello = "58853e8a5e8272b1012f9a52a80758b27bd0d3cb"

func TestBlobID_Deterministic(t *testing.T) {
	t.Parallel()

	data := []byte("hello\nworld\n")

	first := BlobID(data)
	second := BlobID(data)

	assert.Equal(t, first, second)
	assert.Equal(t, knownSHA1Hello, first)
	assert.Len(t, first, BlobIDLen)
}

func TestBlobID_DistinctContent(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, BlobID([]byte("a")), BlobID([]byte("b")))
}

func TestBlobID_EqualContentEqualID(t *testing.T) {
	t.Parallel()

	left := BlobID([]byte("shared bytes"))
	right := BlobID(append([]byte("shared"), []byte(" bytes")...))

	assert.Equal(t, left, right)
}

func TestDocumentKey_String(t *testing.T) {
	t.Parallel()

	key := DocumentKey{
		Repo:   "github.com/org/repo",
		Path:   "src/main.go",
		BlobID: knownSHA1Hello,
	}

	assert.Equal(t, "github.com/org/repo//src/main.go@"+knownSHA1Hello, key.String())
	assert.False(t, key.IsUnit())
}

func TestDocumentKey_UnitString(t *testing.T) {
	t.Parallel()

	key := DocumentKey{
		Repo:   "r",
		Path:   "p.py",
		BlobID: knownSHA1Hello,
		Name:   "parse",
		Line:   42,
	}

	assert.Equal(t, "r//p.py@"+knownSHA1Hello+":parse:42", key.String())
	assert.True(t, key.IsUnit())
}

func TestParseDocumentKey_RoundTrip(t *testing.T) {
	t.Parallel()

	keys := []DocumentKey{
		{Repo: "github.com/org/repo", Path: "a/b/c.go", BlobID: BlobID([]byte("x"))},
		{Repo: "r", Path: "deep/nested/file.py", BlobID: BlobID([]byte("y")), Name: "run", Line: 7},
		{Repo: "r", Path: "with@at/sign.go", BlobID: BlobID([]byte("z"))},
	}

	for _, key := range keys {
		parsed, err := ParseDocumentKey(key.String())

		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}
}

func TestParseDocumentKey_Malformed(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"no-separators",
		"repo//path-without-blob",
		"repo//path@short",
		"repo//path@" + knownSHA1Hello + ":name-only",
		"repo//path@" + knownSHA1Hello + ":name:not-a-line",
	}

	for _, in := range inputs {
		_, err := ParseDocumentKey(in)

		assert.ErrorIs(t, err, ErrMalformedKey, "input %q", in)
	}
}
