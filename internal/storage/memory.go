package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStorage is an in-process content store for tests and local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

var _ ContentStore = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memObject)}
}

func (s *MemoryStorage) Write(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("short write: %d of %d bytes", len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Read(ctx context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	s.mu.RLock()
	o, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(o.data)), o.info(key), nil
}

func (s *MemoryStorage) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	key, err := cleanPath(p)
	if err != nil {
		return ObjectInfo{}, err
	}
	s.mu.RLock()
	o, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return o.info(key), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, p string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	s.mu.RLock()
	infos := make([]ObjectInfo, 0, len(s.objects))
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, o.info(k))
		}
	}
	s.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// Touch overrides the modification time of path.
func (s *MemoryStorage) Touch(p string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[p]; ok {
		o.modified = at
		s.objects[p] = o
	}
}

func (o memObject) info(key string) ObjectInfo {
	return ObjectInfo{Path: key, Size: int64(len(o.data)), ContentType: o.contentType, ModifiedAt: o.modified}
}
