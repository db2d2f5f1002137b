// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package export renders every playable frame of a doc onto a fixed-size
// background-filled surface and drives an encoder to a final bitstream.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/kortschak/flip/internal/assets"
	"github.com/kortschak/flip/internal/geometry"
	"github.com/kortschak/flip/internal/playback"
)

// ErrEmpty is returned by Export when a doc has no playable frames.
var ErrEmpty = errors.New("nothing to export")

// Exporter is the batch pipeline from a doc to an encoded animation.
// An exporter runs one job at a time.
type Exporter struct {
	cache *assets.Cache
	clock *playback.Clock
	log   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New returns an exporter compositing images decoded by cache. If clock
// is non-nil it is forced to the stopped state before each export so that
// playback cannot preempt the run.
func New(cache *assets.Cache, clock *playback.Clock, log *slog.Logger) *Exporter {
	return &Exporter{
		cache: cache,
		clock: clock,
		log:   log.With(slog.String("component", "export")),
	}
}

// Running reports whether an export is in flight.
func (e *Exporter) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Export composites every playable frame of the doc over the background
// color, appends each to the encoder with a uniform delay of 1000/fps
// milliseconds and returns the encoder's final bitstream. Fractional
// completion is forwarded to onProgress if it is non-nil.
//
// Every distinct source image is decoded exactly once before compositing
// begins; any decode failure fails the whole export. The running state is
// reset on all return paths.
func (e *Exporter) Export(ctx context.Context, doc geometry.Doc, fps int, background color.Color, enc Encoder, onProgress func(float64)) (_ []byte, err error) {
	n := doc.Len()
	if n == 0 {
		return nil, ErrEmpty
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("export already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if e.clock != nil {
		e.clock.Pause()
	}

	job := uuid.New()
	start := time.Now()
	e.log.LogAttrs(ctx, slog.LevelInfo, "export start", slog.Any("job", job),
		slog.String("mode", doc.Mode.String()), slog.Int("frames", n), slog.Int("fps", fps))
	defer func() {
		if err != nil {
			e.log.LogAttrs(ctx, slog.LevelError, "export failed", slog.Any("job", job), slog.Any("error", err))
			return
		}
		e.log.LogAttrs(ctx, slog.LevelInfo, "export done", slog.Any("job", job),
			slog.Duration("elapsed", time.Since(start)))
	}()

	canvas, err := canvasSize(doc)
	if err != nil {
		return nil, err
	}
	sources, err := e.decodeAll(doc)
	if err != nil {
		return nil, err
	}

	fps = min(max(fps, playback.MinFPS), playback.MaxFPS)
	delay := time.Duration(math.Round(1000/float64(fps))) * time.Millisecond

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		p, ok := geometry.Resolve(doc, i)
		if !ok {
			return nil, ErrEmpty
		}
		src := sources[p.Source]
		dst := image.NewRGBA(image.Rectangle{Max: canvas})
		draw.Copy(dst, dst.Rect.Min, &image.Uniform{background}, dst.Rect, draw.Src, nil)
		switch doc.Mode {
		case geometry.Sequence:
			// Frames smaller than the canvas are centered,
			// not stretched.
			at := image.Pt((canvas.X-p.Canvas.X)/2, (canvas.Y-p.Canvas.Y)/2)
			draw.Copy(dst, at, src, src.Bounds(), draw.Over, nil)
		case geometry.Grid:
			draw.Copy(dst, image.Point{}, src, p.Rect.Add(src.Bounds().Min), draw.Over, nil)
		}
		err = enc.AddFrame(dst, delay)
		if err != nil {
			return nil, fmt.Errorf("add frame %d: %w", i, err)
		}
	}

	return enc.Render(ctx, onProgress)
}

// canvasSize returns the fixed export canvas size, the first frame's
// native size in Sequence mode or the atlas cell size in Grid mode.
func canvasSize(doc geometry.Doc) (image.Point, error) {
	switch doc.Mode {
	case geometry.Sequence:
		if len(doc.Frames) == 0 {
			return image.Point{}, ErrEmpty
		}
		f := doc.Frames[0]
		return image.Pt(f.Width, f.Height), nil
	case geometry.Grid:
		if doc.Atlas.Image.Source == "" {
			return image.Point{}, ErrEmpty
		}
		return doc.Atlas.CellSize(), nil
	default:
		return image.Point{}, fmt.Errorf("invalid mode: %v", doc.Mode)
	}
}

// decodeAll decodes every distinct source image of the doc exactly once
// up front, so a decode failure aborts the export before any frame has
// been appended.
func (e *Exporter) decodeAll(doc geometry.Doc) (map[string]image.Image, error) {
	sources := make(map[string]image.Image)
	switch doc.Mode {
	case geometry.Sequence:
		for _, f := range doc.Frames {
			if _, ok := sources[f.Source]; ok {
				continue
			}
			img, err := e.cache.Get(f.Source)
			if err != nil {
				return nil, err
			}
			sources[f.Source] = img
		}
	case geometry.Grid:
		img, err := e.cache.Get(doc.Atlas.Image.Source)
		if err != nil {
			return nil, err
		}
		sources[doc.Atlas.Image.Source] = img
	}
	return sources, nil
}
