// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package project

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

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flip/internal/assets"
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

var unmarshalTests = []struct {
	name string
	data string

	want    *Config
	wantErr bool
}{
	{
		name: "defaults",
		data: "",
		want: &Config{
			Mode: "sequence", FPS: 12, Scale: 1,
			Atlas: AtlasConfig{Rows: 1, Cols: 1, Total: 1},
		},
	},
	{
		name: "grid",
		data: `
mode = "grid"
fps = 8
scale = 2.5
background = "#336699"

[atlas]
image = "sprites.png"
rows = 4
cols = 4
total = 10
`,
		want: &Config{
			Mode: "grid", FPS: 8, Scale: 2.5, Background: "#336699",
			Atlas: AtlasConfig{Image: "sprites.png", Rows: 4, Cols: 4, Total: 10},
		},
	},
	{
		name: "clamped",
		data: `
fps = 1000
scale = 100.0

[atlas]
rows = 0
cols = -3
total = 9
`,
		want: &Config{
			Mode: "sequence", FPS: 60, Scale: 10,
			Atlas: AtlasConfig{Rows: 1, Cols: 1, Total: 1},
		},
	},
	{
		name:    "unknown_mode",
		data:    `mode = "spiral"`,
		wantErr: true,
	},
	{
		name:    "syntax_error",
		data:    `mode = `,
		wantErr: true,
	},
}

func TestUnmarshal(t *testing.T) {
	for _, test := range unmarshalTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Unmarshal([]byte(test.data))
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if test.wantErr {
				return
			}
			if !cmp.Equal(got, test.want) {
				t.Errorf("unexpected config:\n%s", cmp.Diff(got, test.want))
			}
		})
	}
}

func TestBackgroundColor(t *testing.T) {
	c := Config{Background: "#ff0000"}
	col, err := c.BackgroundColor()
	if err != nil {
		t.Fatalf("failed to parse background: %v", err)
	}
	r, g, b, a := col.RGBA()
	if r != 0xffff || g != 0 || b != 0 || a != 0xffff {
		t.Errorf("unexpected color: got:%d,%d,%d,%d", r, g, b, a)
	}

	c.Background = ""
	col, err = c.BackgroundColor()
	if err != nil {
		t.Fatalf("failed to default background: %v", err)
	}
	if col != color.Color(color.White) {
		t.Errorf("unexpected default color: got:%v", col)
	}

	c.Background = "red"
	_, err = c.BackgroundColor()
	if err == nil {
		t.Error("expected error for non-hex color")
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
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

func TestDoc(t *testing.T) {
	dir := t.TempDir()
	atlas := filepath.Join(dir, "atlas.png")
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writePNG(t, atlas, 64, 32)
	writePNG(t, a, 10, 10)
	writePNG(t, b, 20, 5)

	cache := assets.NewCache(newTestLog(t))

	cfg, err := Unmarshal([]byte(`
mode = "grid"

[atlas]
image = "` + atlas + `"
rows = 2
cols = 4
total = 6
`))
	if err != nil {
		t.Fatalf("failed to unmarshal config: %v", err)
	}
	doc, err := cfg.Doc(cache)
	if err != nil {
		t.Fatalf("failed to build doc: %v", err)
	}
	want := geometry.Doc{Mode: geometry.Grid, Atlas: geometry.NewAtlas(2, 4, 6, geometry.Frame{
		Source: atlas, Width: 64, Height: 32,
	})}
	if !cmp.Equal(doc, want) {
		t.Errorf("unexpected doc:\n%s", cmp.Diff(doc, want))
	}

	cfg, err = Unmarshal([]byte("frames = [\"" + a + "\", \"" + b + "\"]"))
	if err != nil {
		t.Fatalf("failed to unmarshal config: %v", err)
	}
	doc, err = cfg.Doc(cache)
	if err != nil {
		t.Fatalf("failed to build doc: %v", err)
	}
	want = geometry.Doc{Mode: geometry.Sequence, Frames: []geometry.Frame{
		{Source: a, Width: 10, Height: 10},
		{Source: b, Width: 20, Height: 5},
	}}
	if !cmp.Equal(doc, want) {
		t.Errorf("unexpected doc:\n%s", cmp.Diff(doc, want))
	}

	cfg, err = Unmarshal([]byte(`frames = ["` + filepath.Join(dir, "missing.png") + `"]`))
	if err != nil {
		t.Fatalf("failed to unmarshal config: %v", err)
	}
	_, err = cfg.Doc(cache)
	if err == nil {
		t.Error("expected error for missing source")
	}
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flip.toml")
	err := os.WriteFile(path, []byte("fps = 10\n"), 0o644)
	if err != nil {
		t.Fatalf("failed to write project: %v", err)
	}

	changes := make(chan Change, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := NewWatcher(ctx, path, changes, -1, newTestLog(t))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Close()
	go w.Watch(ctx)

	select {
	case c := <-changes:
		if c.Err != nil {
			t.Fatalf("unexpected error in initial change: %v", c.Err)
		}
		if c.Config.FPS != 10 {
			t.Errorf("unexpected initial fps: got:%d want:10", c.Config.FPS)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial change")
	}

	err = os.WriteFile(path, []byte("fps = 24\n"), 0o644)
	if err != nil {
		t.Fatalf("failed to rewrite project: %v", err)
	}
	select {
	case c := <-changes:
		if c.Err != nil {
			t.Fatalf("unexpected error in change: %v", c.Err)
		}
		if c.Config.FPS != 24 {
			t.Errorf("unexpected fps after rewrite: got:%d want:24", c.Config.FPS)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}
