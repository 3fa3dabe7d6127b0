package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps objects as files below a root directory.
type FileStore struct {
	root    string
	maxSize int64
	now     func() time.Time
}

// NewFileStore creates root if needed. An empty root uses a genmed-audio
// directory under the OS temp dir.
func NewFileStore(root string, maxSize int64) (*FileStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "genmed-audio")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create audio store dir: %w", err)
	}
	return &FileStore{root: root, maxSize: normalizeMax(maxSize), now: time.Now}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put streams content to a temp file and renames it into place, so a
// partially written object is never visible under its key.
func (s *FileStore) Put(ctx context.Context, contentType string, content io.Reader) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	key := newKey(now)
	dst, err := s.path(key)
	if err != nil {
		return nil, err
	}
	tmp, err := s.createTemp(filepath.Dir(dst))
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	data, err := readLimited(content, s.maxSize)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("commit object: %w", err)
	}
	return describe(key, contentType, data, now), nil
}

// createTemp makes dir and a temp file in it. A concurrent Delete may prune
// dir between the two steps, so that case is retried once.
func (s *FileStore) createTemp(dir string) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create object dir: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".upload-*")
		if err == nil {
			return tmp, nil
		}
		if attempt > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("create temp file: %w", err)
		}
	}
}

func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	s.pruneDirs(filepath.Dir(p))
	return nil
}

// pruneDirs removes empty directories from dir up to, but not including,
// the store root. It stops at the first directory that is not empty.
func (s *FileStore) pruneDirs(dir string) {
	root := filepath.Clean(s.root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
