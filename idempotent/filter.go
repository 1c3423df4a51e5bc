// Package idempotent suppresses re-emission of remote files that were
// already delivered, keyed by remote directory and file name.
package idempotent

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/metadata"
)

// Key joins a remote directory and file name into the seen-store key.
// A file that is deleted and later recreated under the same name maps to
// the same key and stays suppressed.
func Key(remoteDirectory, filename string) string {
	if strings.HasSuffix(remoteDirectory, "/") {
		return remoteDirectory + filename
	}
	return remoteDirectory + "/" + filename
}

// Filter answers whether a key is new. Consistency across processes is
// whatever the backing store provides.
type Filter struct {
	store      metadata.Store
	logger     *slog.Logger
	now        func() time.Time
	duplicates atomic.Int64
	onDup      func()
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger for duplicate diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) { f.logger = l }
}

// WithDuplicateHook is called for each suppressed key.
func WithDuplicateHook(fn func()) Option {
	return func(f *Filter) { f.onDup = fn }
}

// WithNow replaces the clock used for the stored marker.
func WithNow(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// NewFilter wraps store.
func NewFilter(store metadata.Store, opts ...Option) *Filter {
	f := &Filter{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ShouldEmit reports whether key has not been seen. A true result obliges
// the caller to call MarkSeen after emitting.
func (f *Filter) ShouldEmit(ctx context.Context, key string) (bool, error) {
	seen, err := f.store.Contains(ctx, key)
	if err != nil {
		return false, errors.Wrap(err, "Filter", "ShouldEmit", "seen lookup")
	}
	if seen {
		f.duplicates.Add(1)
		if f.onDup != nil {
			f.onDup()
		}
		f.logger.Debug("Skipping already delivered file", "key", key)
		return false, nil
	}
	return true, nil
}

// MarkSeen records key. The stored value is the time it was first marked.
func (f *Filter) MarkSeen(ctx context.Context, key string) error {
	marker := strconv.FormatInt(f.now().UnixMilli(), 10)
	if _, err := f.store.PutIfAbsent(ctx, key, marker); err != nil {
		return errors.Wrap(err, "Filter", "MarkSeen", "seen store")
	}
	return nil
}

// Forget removes key so the file is delivered again on its next listing.
func (f *Filter) Forget(ctx context.Context, key string) error {
	if err := f.store.Remove(ctx, key); err != nil {
		return errors.Wrap(err, "Filter", "Forget", "seen store")
	}
	return nil
}

// Duplicates returns the number of suppressed keys.
func (f *Filter) Duplicates() int64 {
	return f.duplicates.Load()
}
