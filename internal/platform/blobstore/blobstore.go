// Package blobstore stages uploaded audio until it has been transcribed.
// It defines the Store interface with in-memory, local directory and S3
// implementations. Objects are addressed by server-generated keys and are
// expected to be deleted by the caller once processed.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrTooLarge   = errors.New("object exceeds maximum allowed size")
	ErrInvalidKey = errors.New("invalid object key")
)

// DefaultMaxSize bounds a single staged object when no limit is configured.
const DefaultMaxSize = 25 << 20

// Object describes a stored object.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for staging backends.
type Store interface {
	Put(ctx context.Context, contentType string, content io.Reader) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// newKey returns a date-partitioned key such as audio/2024/05/01/<uuid>.
func newKey(now time.Time) string {
	return fmt.Sprintf("audio/%04d/%02d/%02d/%s", now.Year(), int(now.Month()), now.Day(), uuid.New())
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// readLimited reads content fully, failing with ErrTooLarge past max bytes.
func readLimited(content io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}

func describe(key, contentType string, data []byte, now time.Time) *Object {
	h := sha256.Sum256(data)
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(h[:]),
		CreatedAt:   now.UTC(),
	}
}

func normalizeMax(max int64) int64 {
	if max <= 0 {
		return DefaultMaxSize
	}
	return max
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe, in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	maxSize int64
	now     func() time.Time
}

func NewMemoryStore(maxSize int64) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		maxSize: normalizeMax(maxSize),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, contentType string, content io.Reader) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := readLimited(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	obj := describe(newKey(now), contentType, data, now)

	s.mu.Lock()
	s.objects[obj.Key] = data
	s.mu.Unlock()
	return obj, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// Len reports how many objects are currently staged.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

const (
	KindFile = "file"
	KindS3   = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Kind    string
	MaxSize int64
	Dir     string
	S3      S3Config
}

// New builds the Store selected by opts.Kind.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", KindFile:
		return NewFileStore(opts.Dir, opts.MaxSize)
	case KindS3:
		return NewS3Store(ctx, opts.S3, opts.MaxSize)
	default:
		return nil, fmt.Errorf("unknown audio store %q", opts.Kind)
	}
}
