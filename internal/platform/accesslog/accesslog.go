// Package accesslog persists the note access audit trail. Entries are queued
// by the request path and written by a single background goroutine so a slow
// database never delays a response.
package accesslog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/genmed/genmed/internal/platform/middleware"
)

var (
	ErrBufferFull = errors.New("access log buffer full")
	ErrClosed     = errors.New("access log closed")
)

// DefaultBuffer is the queue length used when NewWriter gets a non-positive size.
const DefaultBuffer = 256

const insertTimeout = 5 * time.Second

// Store persists one entry.
type Store interface {
	Insert(ctx context.Context, entry middleware.AuditEntry) error
}

// Writer is a middleware.AuditRecorder that writes entries asynchronously.
type Writer struct {
	store   Store
	logger  zerolog.Logger
	entries chan middleware.AuditEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWriter starts the background writer. Call Close to flush and stop it.
func NewWriter(store Store, buffer int, logger zerolog.Logger) *Writer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	w := &Writer{
		store:   store,
		logger:  logger.With().Str("component", "accesslog").Logger(),
		entries: make(chan middleware.AuditEntry, buffer),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// RecordAccess queues entry. It never blocks: when the queue is full the
// entry is dropped and ErrBufferFull returned.
func (w *Writer) RecordAccess(entry middleware.AuditEntry) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.entries <- entry:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBufferFull
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for entry := range w.entries {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		err := w.store.Insert(ctx, entry)
		cancel()
		if err != nil {
			w.failed.Add(1)
			w.logger.Error().Err(err).
				Str("request_id", entry.RequestID).
				Str("route", entry.Route).
				Msg("failed to persist access log entry")
		}
	}
}

// Close stops accepting entries and waits until queued ones are written or
// ctx expires.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports entries dropped on a full queue and inserts that failed.
func (w *Writer) Stats() (dropped, failed int64) {
	return w.dropped.Load(), w.failed.Load()
}
