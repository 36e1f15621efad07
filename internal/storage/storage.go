// Package storage holds the content store: immutable version blobs addressed
// by a path derived from the owning document's external key.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Read and Stat for a path with no object.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// ContentStore is durable storage for immutable blobs. Writes to the same path
// overwrite, so a retried write with the same bytes is safe. Nothing here is
// transactional with the metadata store.
type ContentStore interface {
	Write(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	// Read returns the object body; the caller closes it.
	Read(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, path string) (ObjectInfo, error)
	// Delete removes path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
	// List calls fn for every object under prefix. Returning an error from fn
	// stops the walk and is returned.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
}

// Presigner is implemented by stores that can hand out time-limited direct
// download URLs.
type Presigner interface {
	PresignedURL(ctx context.Context, path string, expires time.Duration) (string, error)
}

// Exists reports whether path is present.
func Exists(ctx context.Context, s ContentStore, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const maxSegmentLen = 100

// Sanitize makes s safe as a single path segment. Characters that are invalid
// in file names split the string, blank pieces are dropped, the rest are
// joined with "_" and the result is capped at 100 bytes.
func Sanitize(s string) string {
	var parts []string
	for _, p := range strings.FieldsFunc(s, invalidNameRune) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	out := strings.Join(parts, "_")
	if len(out) > maxSegmentLen {
		out = strings.TrimSpace(truncateUTF8(out, maxSegmentLen))
	}
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}

func invalidNameRune(r rune) bool {
	if r < 0x20 || r == 0x7f {
		return true
	}
	return strings.ContainsRune(`<>:"/\|?*`, r)
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// BlobPath returns the content path of a version blob:
// <documentKey>/<sanitized label>/<versionKey><ext>. The extension is taken
// from fileName and lower-cased.
func BlobPath(documentKey, label, versionKey, fileName string) string {
	ext := strings.ToLower(path.Ext(Sanitize(fileName)))
	return path.Join(Sanitize(documentKey), Sanitize(label), Sanitize(versionKey)+ext)
}

// cleanPath rejects paths that would escape a store root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty object path")
	}
	c := path.Clean("/" + p)[1:]
	if c == "" || c != strings.TrimPrefix(p, "/") {
		return "", errors.New("invalid object path " + p)
	}
	return c, nil
}
