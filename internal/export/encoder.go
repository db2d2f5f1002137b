// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"context"
	"image"
	"time"
)

// Encoder is a frame-accumulating animated bitstream encoder. Frames are
// appended in increasing index order and the final bitstream is produced
// by a single Render call.
type Encoder interface {
	// AddFrame appends a composited frame to be
	// displayed for delay.
	AddFrame(img image.Image, delay time.Duration) error

	// Render encodes the accumulated frames into the
	// final bitstream, reporting fractional progress
	// in [0, 1] to onProgress if it is non-nil.
	Render(ctx context.Context, onProgress func(float64)) ([]byte, error)
}
