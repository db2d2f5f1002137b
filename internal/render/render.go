// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render draws resolved frames onto raster surfaces.
package render

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kortschak/flip/internal/assets"
	"github.com/kortschak/flip/internal/geometry"
)

// Scale bounds for the preview surface.
const (
	MinScale = 0.1
	MaxScale = 10.0
)

// Renderer draws single frames of a doc onto freshly cleared surfaces.
// Source images are decoded through the asset cache so repeated frames of
// the same source are not re-decoded.
type Renderer struct {
	cache *assets.Cache
	log   *slog.Logger
}

// New returns a renderer drawing images decoded by cache.
func New(cache *assets.Cache, log *slog.Logger) *Renderer {
	return &Renderer{cache: cache, log: log.With(slog.String("component", "render"))}
}

// Frame renders frame i of the doc at the given scale over the background
// color. The returned surface is (frameW·scale)×(frameH·scale) pixels,
// sampled nearest-neighbor so pixel art stays crisp under magnification.
// A doc with nothing to draw yields the placeholder surface. If the
// frame's source cannot be decoded, the cleared background surface is
// returned along with the error so the caller can defer the draw; the
// next call retries the decode.
func (r *Renderer) Frame(doc geometry.Doc, i int, scale float64, background color.Color) (*image.RGBA, error) {
	p, ok := geometry.Resolve(doc, i)
	if !ok {
		return Placeholder(), nil
	}
	scale = min(max(scale, MinScale), MaxScale)
	dst := image.NewRGBA(image.Rect(0, 0,
		max(int(math.Round(float64(p.Canvas.X)*scale)), 1),
		max(int(math.Round(float64(p.Canvas.Y)*scale)), 1),
	))
	if background != nil {
		draw.Copy(dst, dst.Rect.Min, &image.Uniform{background}, dst.Rect, draw.Src, nil)
	}
	src, err := r.cache.Get(p.Source)
	if err != nil {
		r.log.LogAttrs(context.Background(), slog.LevelWarn, "defer draw",
			slog.Int("index", i), slog.Any("error", err))
		return dst, err
	}
	draw.NearestNeighbor.Scale(dst, dst.Rect, src, p.Rect.Add(src.Bounds().Min), draw.Over, nil)
	return dst, nil
}

// Placeholder returns the fixed-size surface rendered when a doc has no
// playable frames.
func Placeholder() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, geometry.FallbackSize, geometry.FallbackSize))
	const label = "no frames"
	d := font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{color.Gray{Y: 0x80}},
		Face: basicfont.Face7x13,
	}
	w := d.MeasureString(label)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(geometry.FallbackSize) - w) / 2,
		Y: fixed.I(geometry.FallbackSize / 2),
	}
	d.DrawString(label)
	return dst
}
