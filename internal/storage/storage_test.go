package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Zakon o radu":       "Zakon o radu",
		"a/b\\c":             "a_b_c",
		`  "quoted" name?  `: "quoted_name",
		"":                   "_",
		"..":                 "_",
		"///":                "_",
		"2.1":                "2.1",
		"tab\there":          "tab_here",
	}
	for in, want := range cases {
		require.Equal(t, want, Sanitize(in), "input %q", in)
	}

	long := strings.Repeat("ž", 80) // 160 bytes
	got := Sanitize(long)
	require.LessOrEqual(t, len(got), 100)
	require.True(t, strings.HasPrefix(long, got))
}

func TestBlobPath(t *testing.T) {
	require.Equal(t, "doc-key/2.1/ver-key.pdf", BlobPath("doc-key", "2.1", "ver-key", "Zakon.PDF"))
	require.Equal(t, "doc-key/v_1/ver-key", BlobPath("doc-key", "v/1", "ver-key", "noext"))
	require.Equal(t, "doc-key/_/ver-key.docx", BlobPath("doc-key", "..", "ver-key", "../../etc/x.docx"))
}

func TestCleanPath(t *testing.T) {
	p, err := cleanPath("a/b/c.pdf")
	require.NoError(t, err)
	require.Equal(t, "a/b/c.pdf", p)

	for _, bad := range []string{"", "../x", "a/../../x", "a//b", "/"} {
		_, err := cleanPath(bad)
		require.Error(t, err, "path %q", bad)
	}
}

func testBackend(t *testing.T, s ContentStore) {
	ctx := context.Background()
	body := []byte("%PDF-1.7 regulatory text")

	ok, err := Exists(ctx, s, "k/v1/a.pdf")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = s.Read(ctx, "k/v1/a.pdf")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "k/v1/a.pdf", bytes.NewReader(body), int64(len(body)), "application/pdf"))
	ok, err = Exists(ctx, s, "k/v1/a.pdf")
	require.NoError(t, err)
	require.True(t, ok)

	rc, info, err := s.Read(ctx, "k/v1/a.pdf")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, body, got)
	require.Equal(t, int64(len(body)), info.Size)

	// overwrite with identical bytes is allowed
	require.NoError(t, s.Write(ctx, "k/v1/a.pdf", bytes.NewReader(body), int64(len(body)), "application/pdf"))
	require.NoError(t, s.Write(ctx, "k/v2/b.docx", strings.NewReader("docx"), 4, ""))
	require.NoError(t, s.Write(ctx, "other/v1/c.pdf", strings.NewReader("c"), 1, ""))

	var listed []string
	require.NoError(t, s.List(ctx, "k/", func(o ObjectInfo) error {
		listed = append(listed, o.Path)
		return nil
	}))
	require.ElementsMatch(t, []string{"k/v1/a.pdf", "k/v2/b.docx"}, listed)

	listed = nil
	require.NoError(t, s.List(ctx, "", func(o ObjectInfo) error {
		listed = append(listed, o.Path)
		return nil
	}))
	require.Len(t, listed, 3)

	require.NoError(t, s.Delete(ctx, "k/v1/a.pdf"))
	require.NoError(t, s.Delete(ctx, "k/v1/a.pdf"))
	_, err = s.Stat(ctx, "k/v1/a.pdf")
	require.ErrorIs(t, err, ErrNotFound)

	err = s.Write(ctx, "../escape", strings.NewReader("x"), 1, "")
	require.Error(t, err)
}

func TestMemoryStorage(t *testing.T) {
	testBackend(t, NewMemoryStorage())
}

func TestFSStorage(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)
	testBackend(t, s)
}

func TestFSStorageRejectsShortWrite(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)
	err = s.Write(context.Background(), "k/v/x.pdf", strings.NewReader("abc"), 10, "")
	require.Error(t, err)
	ok, err := Exists(context.Background(), s, "k/v/x.pdf")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMinIOStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	s, err := NewMinIOStorage(context.Background(), MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_TEST_SECRET_KEY"),
		Bucket:    "regdocs-test",
	})
	require.NoError(t, err)
	testBackend(t, s)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &MemoryStorage{}, s)

	s, err = Open(context.Background(), Config{Backend: "fs", Dir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &FSStorage{}, s)

	_, err = Open(context.Background(), Config{Backend: "minio"})
	require.Error(t, err)

	_, err = Open(context.Background(), Config{Backend: "tape"})
	require.Error(t, err)
}
