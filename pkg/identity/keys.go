// Package identity provides content-addressed document identifiers.
//
// Every indexable document is identified by its blob id, the SHA1 of the raw
// file bytes in lowercase hex. The document key combines the repository,
// path, and blob id so that the same bytes appearing in several places keep
// one blob id but distinct keys. Identifiers are fully reproducible: no
// randomness enters key construction.
package identity

import (
	"crypto/sha1" //nolint:gosec // content addressing, not security.
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// BlobIDLen is the length of a hex-encoded blob id.
	BlobIDLen = 2 * sha1.Size

	// repoPathSeparator separates the repository from the path in a document key.
	repoPathSeparator = "//"

	// blobSeparator separates the path from the blob id in a document key.
	blobSeparator = "@"

	// unitSeparator separates the function name and line in a unit document key.
	unitSeparator = ":"
)

// ErrMalformedKey is returned when a document key cannot be parsed.
var ErrMalformedKey = errors.New("identity: malformed document key")

// BlobID returns the SHA1 of the raw bytes, hex-lowercase.
func BlobID(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec // content addressing, not security.

	return hex.EncodeToString(sum[:])
}

// DocumentKey is the stable primary key "repo//path@blob-id" used everywhere
// downstream. For function granularity the key carries the declared name and
// start line: "repo//path@blob-id:name:line".
type DocumentKey struct {
	Repo   string
	Path   string
	BlobID string

	// Name and Line identify a function-scoped document. Both are zero for
	// whole-file documents.
	Name string
	Line int
}

// String renders the canonical key form.
func (k DocumentKey) String() string {
	base := k.Repo + repoPathSeparator + k.Path + blobSeparator + k.BlobID
	if k.Name == "" {
		return base
	}

	return fmt.Sprintf("%s%s%s%s%d", base, unitSeparator, k.Name, unitSeparator, k.Line)
}

// IsUnit reports whether the key addresses a function-scoped document.
func (k DocumentKey) IsUnit() bool {
	return k.Name != ""
}

// ParseDocumentKey parses the canonical key form back into its parts.
func ParseDocumentKey(s string) (DocumentKey, error) {
	repoIdx := strings.Index(s, repoPathSeparator)
	if repoIdx < 0 {
		return DocumentKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	rest := s[repoIdx+len(repoPathSeparator):]

	blobIdx := strings.LastIndex(rest, blobSeparator)
	if blobIdx < 0 {
		return DocumentKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	key := DocumentKey{
		Repo: s[:repoIdx],
		Path: rest[:blobIdx],
	}

	tail := rest[blobIdx+len(blobSeparator):]
	if len(tail) < BlobIDLen {
		return DocumentKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	key.BlobID = tail[:BlobIDLen]

	unit := tail[BlobIDLen:]
	if unit == "" {
		return key, nil
	}

	parts := strings.Split(strings.TrimPrefix(unit, unitSeparator), unitSeparator)

	const unitParts = 2
	if len(parts) != unitParts {
		return DocumentKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	key.Name = parts[0]

	_, err := fmt.Sscanf(parts[1], "%d", &key.Line)
	if err != nil {
		return DocumentKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	return key, nil
}
