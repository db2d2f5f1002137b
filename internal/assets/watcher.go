// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package assets

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait after a write event before
// invalidating to work around some editors writing an empty file and then
// the buffer.
const FileDebounce = 10 * time.Millisecond

// Watcher drops cache entries when the files backing them change on disk.
// Invalidated source paths are sent on the invalidated channel so that a
// consumer can re-ingest or re-render.
type Watcher struct {
	cache       *Cache
	watcher     *fsnotify.Watcher
	debounce    time.Duration
	invalidated chan<- string
	log         *slog.Logger

	mu   sync.Mutex
	dirs map[string]int
}

// NewWatcher returns a watcher invalidating entries of cache. If debounce
// is less than zero, FileDebounce is used.
func NewWatcher(cache *Cache, invalidated chan<- string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	return &Watcher{
		cache:       cache,
		watcher:     watcher,
		debounce:    debounce,
		invalidated: invalidated,
		log:         log.With(slog.String("component", "assets.watcher")),
		dirs:        make(map[string]int),
	}, nil
}

// Add registers the source path's directory for watching. Watches are
// reference counted per directory so sources sharing a directory share a
// watch.
func (w *Watcher) Add(source string) error {
	dir := filepath.Dir(source)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] == 0 {
		err := w.watcher.Add(dir)
		if err != nil {
			return err
		}
	}
	w.dirs[dir]++
	return nil
}

// Remove drops one reference to the source path's directory, removing the
// watch when the last reference is dropped.
func (w *Watcher) Remove(source string) error {
	dir := filepath.Dir(source)
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.dirs[dir]
	if !ok {
		return nil
	}
	if n == 1 {
		delete(w.dirs, dir)
		return w.watcher.Remove(dir)
	}
	w.dirs[dir] = n - 1
	return nil
}

// Watch processes file events, invalidating cache entries for sources
// that are written, removed or renamed. It returns when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.watcher.Events:
			if !ev.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			if ev.Has(fsnotify.Write) {
				time.Sleep(w.debounce)
			}
			if !w.cache.Invalidate(ev.Name) {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "invalidate", slog.String("source", ev.Name), slog.Any("op", ev.Op))
			if w.invalidated == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case w.invalidated <- ev.Name:
			}
		case err := <-w.watcher.Errors:
			w.log.LogAttrs(ctx, slog.LevelError, "watch", slog.Any("error", err))
		}
	}
}

// Close closes the underlying file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
