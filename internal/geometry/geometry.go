// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package geometry resolves abstract frame addresses into concrete source
// rectangles and canvas sizes.
package geometry

import "image"

// Mode selects which data set of a Doc is authoritative.
type Mode uint8

const (
	// Sequence plays an ordered list of independently sized frames.
	Sequence Mode = iota
	// Grid plays equal-sized cells cut from a single atlas image.
	Grid
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case Sequence:
		return "sequence"
	case Grid:
		return "grid"
	default:
		return "invalid"
	}
}

// Frame is one ingested source image. It is immutable after ingestion.
type Frame struct {
	// Source is the identifier resolvable to pixel
	// data, a file path in the flip CLI.
	Source string

	// Width and Height are the decoded dimensions
	// of the source in pixels.
	Width  int
	Height int
}

// Atlas is the configuration of a grid atlas. Rows and Cols are at least
// one and Total is in [1, Rows·Cols] for any Atlas constructed or mutated
// through the methods below.
type Atlas struct {
	Rows  int
	Cols  int
	Total int

	// Image is the atlas source. A zero Source
	// means no atlas has been ingested.
	Image Frame
}

// NewAtlas returns an Atlas with the provided shape, clamping rows and
// cols to one and total into [1, rows·cols].
func NewAtlas(rows, cols, total int, img Frame) Atlas {
	a := Atlas{Rows: max(rows, 1), Cols: max(cols, 1), Image: img}
	a.Total = clampTotal(total, a.Rows, a.Cols)
	return a
}

// SetRows sets the row count, clamping to one, and re-clamps Total to the
// new cell count.
func (a *Atlas) SetRows(rows int) {
	a.Rows = max(rows, 1)
	a.Total = clampTotal(a.Total, a.Rows, a.Cols)
}

// SetCols sets the column count, clamping to one, and re-clamps Total to
// the new cell count.
func (a *Atlas) SetCols(cols int) {
	a.Cols = max(cols, 1)
	a.Total = clampTotal(a.Total, a.Rows, a.Cols)
}

// SetTotal sets the playable frame count, clamped into [1, Rows·Cols].
func (a *Atlas) SetTotal(total int) {
	a.Total = clampTotal(total, a.Rows, a.Cols)
}

func clampTotal(total, rows, cols int) int {
	return min(max(total, 1), rows*cols)
}

// CellSize returns the size of one atlas cell, the atlas image dimensions
// divided by the column and row counts, truncated.
func (a Atlas) CellSize() image.Point {
	if a.Image.Source == "" {
		return image.Point{}
	}
	return image.Pt(a.Image.Width/max(a.Cols, 1), a.Image.Height/max(a.Rows, 1))
}

// Doc is the animation data consumed by resolution, rendering and export.
type Doc struct {
	Mode   Mode
	Frames []Frame
	Atlas  Atlas
}

// Len returns the number of playable frames, the length of the frame list
// in Sequence mode or the atlas Total in Grid mode. A Grid doc with no
// atlas image has no playable frames.
func (d Doc) Len() int {
	switch d.Mode {
	case Sequence:
		return len(d.Frames)
	case Grid:
		if d.Atlas.Image.Source == "" {
			return 0
		}
		return d.Atlas.Total
	default:
		return 0
	}
}

// FallbackSize is the edge length of the canvas reported when a doc has
// nothing to draw.
const FallbackSize = 300

// Placement is a resolved frame address.
type Placement struct {
	// Source identifies the image holding the
	// frame's pixels. It is empty when there is
	// nothing to draw.
	Source string

	// Rect is the frame's region within the
	// source image.
	Rect image.Rectangle

	// Canvas is the native size of the frame.
	Canvas image.Point
}

// Resolve returns the placement for frame i of the doc and whether there
// is anything to draw. In Sequence mode i is reduced modulo the frame
// list length and the placement covers the whole stored image. In Grid
// mode cells are addressed row-major and i is not clamped to the atlas
// Total; bounding i to [0, Total) is the caller's responsibility, and
// indices up to Rows·Cols resolve to real, if inactive, cells.
func Resolve(d Doc, i int) (Placement, bool) {
	switch d.Mode {
	case Sequence:
		if len(d.Frames) == 0 {
			return fallback(), false
		}
		f := d.Frames[i%len(d.Frames)]
		return Placement{
			Source: f.Source,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
			Canvas: image.Pt(f.Width, f.Height),
		}, true
	case Grid:
		if d.Atlas.Image.Source == "" {
			return fallback(), false
		}
		cell := d.Atlas.CellSize()
		cols := max(d.Atlas.Cols, 1)
		x := (i % cols) * cell.X
		y := (i / cols) * cell.Y
		return Placement{
			Source: d.Atlas.Image.Source,
			Rect:   image.Rect(x, y, x+cell.X, y+cell.Y),
			Canvas: cell,
		}, true
	default:
		return fallback(), false
	}
}

func fallback() Placement {
	return Placement{Canvas: image.Pt(FallbackSize, FallbackSize)}
}
