// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"bytes"
	"context"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"time"
)

// GIF is an Encoder producing an endlessly looping animated GIF.
// Quantization to the GIF palette is deferred to Render so that progress
// can be reported over the expensive portion of the work.
type GIF struct {
	frames []frame
}

type frame struct {
	img   image.Image
	delay time.Duration
}

// NewGIF returns an empty GIF encoder.
func NewGIF() *GIF {
	return &GIF{}
}

// AddFrame implements the Encoder interface.
func (g *GIF) AddFrame(img image.Image, delay time.Duration) error {
	g.frames = append(g.frames, frame{img: img, delay: delay})
	return nil
}

// Render implements the Encoder interface. Frame delays are rounded to
// the GIF's centisecond tick.
func (g *GIF) Render(ctx context.Context, onProgress func(float64)) ([]byte, error) {
	anim := &gif.GIF{
		Image:     make([]*image.Paletted, len(g.frames)),
		Delay:     make([]int, len(g.frames)),
		LoopCount: 0,
	}
	steps := float64(len(g.frames) + 1)
	for i, f := range g.frames {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		b := f.img.Bounds()
		p := image.NewPaletted(b, palette.Plan9)
		draw.Draw(p, b, f.img, b.Min, draw.Src)
		anim.Image[i] = p
		anim.Delay[i] = int((f.delay + 5*time.Millisecond) / (10 * time.Millisecond))
		if onProgress != nil {
			onProgress(float64(i+1) / steps)
		}
	}
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, anim)
	if err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(1)
	}
	return buf.Bytes(), nil
}
