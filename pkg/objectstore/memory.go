package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type memObject struct {
	data    []byte
	etag    string
	version uint64
	mtime   int64
}

// Memory is an in-process [ObjectStore] backed by a map, useful for tests
// and ephemeral databases. ETags are monotonic version counters rather
// than content hashes, since there's no durability boundary to hash across.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	clock   func() int64
}

// NewMemory creates an empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memObject),
		clock:   nowMillis,
	}
}

func (m *Memory) Read(_ context.Context, path string) ([]byte, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[clean]
	if !ok {
		return nil, newError(CodeNotFound, path, fmt.Errorf("no such object"))
	}

	out := make([]byte, len(obj.data))
	copy(out, obj.data)

	return out, nil
}

func (m *Memory) ReadRange(ctx context.Context, path string, r Range) ([]byte, error) {
	data, err := m.Read(ctx, path)
	if err != nil {
		return nil, err
	}

	size := int64(len(data))

	var start, end int64
	if r.IsSuffix() {
		n := -r.Start
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size
	} else {
		start, end = r.Start, r.End
		if end > size {
			end = size
		}
	}

	if start >= end {
		return []byte{}, nil
	}

	return data[start:end], nil
}

func (m *Memory) Exists(_ context.Context, path string) (bool, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[clean]

	return ok, nil
}

func (m *Memory) Stat(_ context.Context, path string) (Stat, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return Stat{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[clean]
	if !ok {
		return Stat{}, newError(CodeNotFound, path, fmt.Errorf("no such object"))
	}

	return Stat{Size: int64(len(obj.data)), Mtime: obj.mtime, ETag: obj.etag}, nil
}

func (m *Memory) List(_ context.Context, prefix string, _ string) (ListPage, error) {
	clean := ""
	if prefix != "" {
		c, err := CleanPath(prefix)
		if err != nil {
			return ListPage{}, err
		}
		clean = c
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []ListEntry

	for path, obj := range m.objects {
		if clean != "" && !strings.HasPrefix(path, clean) {
			continue
		}

		entries = append(entries, ListEntry{
			Path: path,
			Stat: Stat{Size: int64(len(obj.data)), Mtime: obj.mtime, ETag: obj.etag},
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return ListPage{Entries: entries}, nil
}

func (m *Memory) put(clean string, data []byte) memObject {
	cp := make([]byte, len(data))
	copy(cp, data)

	obj := memObject{data: cp, version: 1, mtime: m.clock()}
	if prev, ok := m.objects[clean]; ok {
		obj.version = prev.version + 1
	}

	obj.etag = strconv.FormatUint(obj.version, 10)
	m.objects[clean] = obj

	return obj
}

func (m *Memory) Write(_ context.Context, path string, data []byte) error {
	clean, err := CleanPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(clean, data)

	return nil
}

func (m *Memory) WriteAtomic(ctx context.Context, path string, data []byte) error {
	return m.Write(ctx, path, data)
}

func (m *Memory) WriteConditional(_ context.Context, path string, data []byte, ifMatchEtag string) (Stat, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return Stat{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[clean]

	switch {
	case !exists && ifMatchEtag != "":
		return Stat{}, newError(CodeETagMismatch, path, fmt.Errorf("object does not exist"))
	case exists && current.etag != ifMatchEtag:
		return Stat{}, newError(CodeETagMismatch, path, fmt.Errorf("etag mismatch: have %s want %s", current.etag, ifMatchEtag))
	}

	obj := m.put(clean, data)

	return Stat{Size: int64(len(obj.data)), Mtime: obj.mtime, ETag: obj.etag}, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	clean, err := CleanPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[clean]; !ok {
		return newError(CodeNotFound, path, fmt.Errorf("no such object"))
	}

	delete(m.objects, clean)

	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	clean, err := CleanPath(prefix)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for path := range m.objects {
		if strings.HasPrefix(path, clean) {
			delete(m.objects, path)
		}
	}

	return nil
}

func (m *Memory) Mkdir(context.Context, string) error { return nil }

func (m *Memory) Rmdir(_ context.Context, path string) error {
	clean, err := CleanPath(path)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for p := range m.objects {
		if strings.HasPrefix(p, clean+"/") {
			return newError(CodeDirectoryNotEmpty, path, fmt.Errorf("directory not empty"))
		}
	}

	return nil
}

var _ ObjectStore = (*Memory)(nil)
