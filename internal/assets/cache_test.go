// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package assets

import (
	"context"
	"flag"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kortschak/flip/internal/geometry"
	"github.com/kortschak/flip/internal/locked"
	"github.com/kortschak/flip/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newTestLog(t *testing.T) *slog.Logger {
	t.Helper()
	var buf locked.BytesBuffer
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(&buf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	})})
	t.Cleanup(func() {
		if *verbose && buf.Len() != 0 {
			t.Logf("log:\n%s\n", &buf)
		}
	})
	return log
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 0xff})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create image file: %v", err)
	}
	defer f.Close()
	err = png.Encode(f, img)
	if err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(newTestLog(t))

	paths := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	writePNG(t, paths[0], 40, 30)
	writePNG(t, paths[1], 16, 16)

	want := []geometry.Frame{
		{Source: paths[0], Width: 40, Height: 30},
		{Source: paths[1], Width: 16, Height: 16},
	}
	for i, path := range paths {
		frame, err := cache.Ingest(path)
		if err != nil {
			t.Fatalf("failed to ingest %s: %v", path, err)
		}
		if frame != want[i] {
			t.Errorf("unexpected frame: got:%+v want:%+v", frame, want[i])
		}
	}
	if n := cache.Len(); n != 2 {
		t.Errorf("unexpected cache length: got:%d want:2", n)
	}

	_, err := cache.Ingest(filepath.Join(dir, "missing.png"))
	if err == nil {
		t.Error("expected error ingesting missing file")
	}
}

func TestMemoize(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(newTestLog(t))
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 8, 8)

	img, err := cache.Get(path)
	if err != nil {
		t.Fatalf("failed to get image: %v", err)
	}
	if got, want := img.Bounds().Max, image.Pt(8, 8); got != want {
		t.Fatalf("unexpected bounds: got:%v want:%v", got, want)
	}

	// A cached source is not re-decoded, so a rewrite
	// is not seen until the entry is invalidated.
	writePNG(t, path, 12, 12)
	img, err = cache.Get(path)
	if err != nil {
		t.Fatalf("failed to get image: %v", err)
	}
	if got, want := img.Bounds().Max, image.Pt(8, 8); got != want {
		t.Errorf("unexpected bounds from cached entry: got:%v want:%v", got, want)
	}

	if !cache.Invalidate(path) {
		t.Error("expected entry to be invalidated")
	}
	if cache.Invalidate(path) {
		t.Error("unexpected second invalidation")
	}
	img, err = cache.Get(path)
	if err != nil {
		t.Fatalf("failed to get image: %v", err)
	}
	if got, want := img.Bounds().Max, image.Pt(12, 12); got != want {
		t.Errorf("unexpected bounds after invalidation: got:%v want:%v", got, want)
	}
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	log := newTestLog(t)
	cache := NewCache(log)
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 8, 8)
	_, err := cache.Get(path)
	if err != nil {
		t.Fatalf("failed to get image: %v", err)
	}

	invalidated := make(chan string, 1)
	w, err := NewWatcher(cache, invalidated, -1, log)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Close()
	err = w.Add(path)
	if err != nil {
		t.Fatalf("failed to add watch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	writePNG(t, path, 12, 12)

	select {
	case got := <-invalidated:
		if got != path {
			t.Errorf("unexpected invalidated source: got:%s want:%s", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for invalidation")
	}

	img, err := cache.Get(path)
	if err != nil {
		t.Fatalf("failed to get image: %v", err)
	}
	if got, want := img.Bounds().Max, image.Pt(12, 12); got != want {
		t.Errorf("unexpected bounds after rewrite: got:%v want:%v", got, want)
	}
}
