// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The flip command turns an ordered image sequence or a sprite atlas into
// an animated GIF, driven by a TOML project document.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kortschak/flip/internal/assets"
	"github.com/kortschak/flip/internal/export"
	"github.com/kortschak/flip/internal/playback"
	"github.com/kortschak/flip/internal/project"
	"github.com/kortschak/flip/internal/slogext"
	"github.com/kortschak/flip/internal/state"
	"github.com/kortschak/flip/internal/version"
)

func main() {
	os.Exit(Main())
}

// Main is the flip entry point. It is separated from main so that it can
// be run by tests.
func Main() int {
	proj := flag.String("project", "flip.toml", "project document path")
	out := flag.String("o", "", "output path (default project name with .gif extension)")
	watch := flag.Bool("watch", false, "re-export when the project document or a source image changes")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *v {
		err := version.Print()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return 2
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "flip.main"))

	path, err := filepath.Abs(*proj)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	dst := *out
	if dst == "" {
		dst = strings.TrimSuffix(path, filepath.Ext(path)) + ".gif"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	statedir, err := stateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fl := flock.New(filepath.Join(statedir, "lock"))
	ok, err := fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "flip is already running")
		return 1
	}
	defer fl.Unlock()

	store, err := state.Open(filepath.Join(statedir, "state.sqlite3"), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open session store: %v\n", err)
		return 1
	}
	defer store.Close()

	cache := assets.NewCache(log)
	f := flipper{
		project: path,
		out:     dst,
		cache:   cache,
		store:   store,
		log:     log,
		mlog:    mlog,
	}

	if !*watch {
		cfg, err := project.Load(path)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "load project", slog.Any("error", err))
			return 1
		}
		err = f.export(ctx, cfg)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "export", slog.Any("error", err))
			return 1
		}
		return 0
	}

	err = f.watch(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		mlog.LogAttrs(ctx, slog.LevelError, "watch", slog.Any("error", err))
		return 1
	}
	return 0
}

// stateDir returns the flip state directory, creating it if necessary.
func stateDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "flip")
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", err
	}
	return dir, nil
}

// flipper runs exports of a single project document.
type flipper struct {
	project string
	out     string
	cache   *assets.Cache
	store   *state.DB
	log     *slog.Logger
	mlog    *slog.Logger

	watched map[string]bool
	sources *assets.Watcher
}

// export runs one full export of the configured project, writes the
// bitstream to the output path and records the session.
func (f *flipper) export(ctx context.Context, cfg *project.Config) error {
	doc, err := cfg.Doc(f.cache)
	if err != nil {
		return err
	}
	background, err := cfg.BackgroundColor()
	if err != nil {
		return err
	}

	clock := playback.NewClock(doc.Len, nil, f.log)
	clock.SetFPS(cfg.FPS)
	if s, err := f.store.LoadSession(f.project); err == nil {
		clock.Scrub(s.Index)
	}

	exp := export.New(f.cache, clock, f.log)
	var last float64
	b, err := exp.Export(ctx, doc, cfg.FPS, background, export.NewGIF(), func(p float64) {
		if p-last < 0.1 && p != 1 {
			return
		}
		last = p
		f.mlog.LogAttrs(ctx, slog.LevelInfo, "progress", slog.Float64("fraction", p))
	})
	if err != nil {
		return err
	}
	err = os.WriteFile(f.out, b, 0o644)
	if err != nil {
		return err
	}
	f.mlog.LogAttrs(ctx, slog.LevelInfo, "wrote animation",
		slog.String("path", f.out), slog.Int("frames", doc.Len()), slog.Int("bytes", len(b)))

	err = f.store.SaveSession(f.project, state.Session{
		Mode:  cfg.Mode,
		Index: clock.Index(),
		FPS:   cfg.FPS,
		Scale: cfg.Scale,
	})
	if err != nil {
		return err
	}
	err = f.store.RecordExport(f.project, state.ExportRecord{
		Path:   f.out,
		Frames: doc.Len(),
		When:   time.Now(),
	})
	if err != nil {
		return err
	}

	if f.sources != nil {
		for _, source := range docSources(cfg) {
			if f.watched[source] {
				continue
			}
			err = f.sources.Add(source)
			if err != nil {
				return err
			}
			f.watched[source] = true
		}
	}
	return nil
}

func docSources(cfg *project.Config) []string {
	if cfg.Mode == "grid" {
		if cfg.Atlas.Image == "" {
			return nil
		}
		return []string{cfg.Atlas.Image}
	}
	return cfg.Frames
}

// watch re-exports the project whenever the project document or one of
// its source images changes.
func (f *flipper) watch(ctx context.Context) error {
	invalidated := make(chan string)
	sources, err := assets.NewWatcher(f.cache, invalidated, -1, f.log)
	if err != nil {
		return err
	}
	defer sources.Close()
	go sources.Watch(ctx)
	f.sources = sources
	f.watched = make(map[string]bool)

	changes := make(chan project.Change)
	w, err := project.NewWatcher(ctx, f.project, changes, -1, f.log)
	if err != nil {
		return err
	}
	defer w.Close()
	go w.Watch(ctx)

	var cfg *project.Config
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-changes:
			if c.Err != nil {
				f.mlog.LogAttrs(ctx, slog.LevelWarn, "project stream error", slog.Any("error", c.Err))
				continue
			}
			if c.Config == nil {
				continue
			}
			cfg = c.Config
		case source := <-invalidated:
			f.mlog.LogAttrs(ctx, slog.LevelInfo, "source changed", slog.String("source", source))
			if cfg == nil {
				continue
			}
		}
		err = f.export(ctx, cfg)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			f.mlog.LogAttrs(ctx, slog.LevelWarn, "export failed", slog.Any("error", err))
		}
	}
}
