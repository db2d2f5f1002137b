// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package project

import (
	"context"
	"crypto/sha1"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then
// the buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a project document change identified by Watch.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Sum is a sha1 checksum of a project document's raw bytes.
type Sum [sha1.Size]byte

// Watcher reloads a project document when it changes on disk, sending the
// reloaded configuration on the changes channel. Writes that do not alter
// the document's checksum are filtered out.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	last     Sum
	log      *slog.Logger
}

// NewWatcher starts an fsnotify.Watcher for the directory holding the
// project document at path. The debounce parameter specifies how long to
// wait after an fsnotify.Event before reading the file; if it is less
// than zero, FileDebounce is used. The initial state of the document is
// sent as a synthetic create change.
func NewWatcher(ctx context.Context, path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		log:      log.With(slog.String("component", "project.watcher")),
	}
	go w.init(ctx)
	return w, nil
}

func (w *Watcher) init(ctx context.Context) {
	cfg, sum, err := w.load()
	if cfg != nil {
		w.last = sum
	}
	select {
	case <-ctx.Done():
	case w.changes <- Change{
		Event:  []fsnotify.Event{{Name: w.path, Op: fsnotify.Create}},
		Config: cfg,
		Err:    err,
	}:
	}
}

func (w *Watcher) load() (*Config, Sum, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return nil, Sum{}, err
	}
	cfg, err := Unmarshal(b)
	return cfg, sha1.Sum(b), err
}

// Watch processes file events for the project document, sending reloaded
// configurations on the changes channel. It returns when ctx is
// cancelled.
func (w *Watcher) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.watcher.Events:
			if ev.Name != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write | fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name))
				time.Sleep(w.debounce)
				cfg, sum, err := w.load()
				if err == nil && sum == w.last {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.String("name", ev.Name))
					continue
				}
				if cfg != nil {
					w.last = sum
				}
				w.send(ctx, Change{Event: []fsnotify.Event{ev}, Config: cfg, Err: err})
			case ev.Has(fsnotify.Remove | fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name))
				w.last = Sum{}
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})
			}
		case err := <-w.watcher.Errors:
			w.send(ctx, Change{Err: err})
		}
	}
}

func (w *Watcher) send(ctx context.Context, c Change) {
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}

// Close closes the underlying file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
