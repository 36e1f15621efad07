package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FSStorage keeps blobs as files under a root directory. Writes go to a temp
// file in the destination directory and are renamed into place, so a reader
// never sees a partial blob.
type FSStorage struct {
	root string
}

var _ ContentStore = (*FSStorage)(nil)

func NewFSStorage(root string) (*FSStorage, error) {
	if root == "" {
		return nil, errors.New("storage root missing")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &FSStorage{root: root}, nil
}

func (s *FSStorage) full(p string) (string, string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	return key, filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FSStorage) Write(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	_, full, err := s.full(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return err
	}
	if size >= 0 && n != size {
		tmp.Close()
		return fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (s *FSStorage) Read(ctx context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	key, full, err := s.full(p)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, err
	}
	return f, fileInfo(key, st), nil
}

func (s *FSStorage) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	key, full, err := s.full(p)
	if err != nil {
		return ObjectInfo{}, err
	}
	st, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	if st.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, key)
	}
	return fileInfo(key, st), nil
}

func (s *FSStorage) Delete(ctx context.Context, p string) error {
	_, full, err := s.full(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FSStorage) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	err := filepath.WalkDir(s.root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		return fn(fileInfo(key, st))
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func fileInfo(key string, st fs.FileInfo) ObjectInfo {
	return ObjectInfo{
		Path:        key,
		Size:        st.Size(),
		ContentType: mime.TypeByExtension(path.Ext(key)),
		ModifiedAt:  st.ModTime(),
	}
}
