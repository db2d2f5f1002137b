// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kortschak/flip/internal/assets"
	"github.com/kortschak/flip/internal/locked"
	"github.com/kortschak/flip/internal/project"
	"github.com/kortschak/flip/internal/slogext"
	"github.com/kortschak/flip/internal/state"
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

func TestExportProject(t *testing.T) {
	dir := t.TempDir()

	// 2×3 atlas of 10×10 cells.
	atlas := filepath.Join(dir, "atlas.png")
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(y/10*3 + x/10), A: 0xff})
		}
	}
	fi, err := os.Create(atlas)
	if err != nil {
		t.Fatalf("failed to create atlas file: %v", err)
	}
	err = png.Encode(fi, img)
	fi.Close()
	if err != nil {
		t.Fatalf("failed to encode atlas: %v", err)
	}

	proj := filepath.Join(dir, "flip.toml")
	err = os.WriteFile(proj, []byte(`
mode = "grid"
fps = 8
background = "#000000"

[atlas]
image = "`+atlas+`"
rows = 2
cols = 3
total = 5
`), 0o644)
	if err != nil {
		t.Fatalf("failed to write project: %v", err)
	}

	log := newTestLog(t)
	store, err := state.Open(filepath.Join(dir, "state.sqlite3"), log)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	out := filepath.Join(dir, "out.gif")
	f := flipper{
		project: proj,
		out:     out,
		cache:   assets.NewCache(log),
		store:   store,
		log:     log,
		mlog:    log,
	}
	cfg, err := project.Load(proj)
	if err != nil {
		t.Fatalf("failed to load project: %v", err)
	}
	err = f.export(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to export: %v", err)
	}

	of, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer of.Close()
	anim, err := gif.DecodeAll(of)
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	if len(anim.Image) != 5 {
		t.Errorf("unexpected frame count: got:%d want:5", len(anim.Image))
	}
	for i, frame := range anim.Image {
		if b := frame.Bounds().Max; b != image.Pt(10, 10) {
			t.Errorf("unexpected size for frame %d: got:%v want:(10,10)", i, b)
		}
		if d := anim.Delay[i]; d != 13 { // 125ms rounds to 13cs.
			t.Errorf("unexpected delay for frame %d: got:%d want:13", i, d)
		}
	}

	s, err := store.LoadSession(proj)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if s.Mode != "grid" || s.FPS != 8 {
		t.Errorf("unexpected session: %+v", s)
	}
	recent, err := store.RecentExports(proj)
	if err != nil {
		t.Fatalf("failed to get recent exports: %v", err)
	}
	if len(recent) != 1 || recent[0].Path != out || recent[0].Frames != 5 {
		t.Errorf("unexpected recent exports: %+v", recent)
	}
}
