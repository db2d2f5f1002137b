// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package project loads and validates flip project configuration.
package project

import (
	"fmt"
	"image/color"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/kortschak/flip/internal/assets"
	"github.com/kortschak/flip/internal/geometry"
	"github.com/kortschak/flip/internal/playback"
	"github.com/kortschak/flip/internal/render"
)

// Config is a flip project document.
type Config struct {
	// Mode is "sequence" or "grid". An empty mode
	// defaults to sequence.
	Mode string `toml:"mode"`

	// FPS is the playback and export frame rate,
	// clamped into [1, 60]. Zero defaults to 12.
	FPS int `toml:"fps"`

	// Scale is the preview magnification, clamped
	// into [0.1, 10]. Zero defaults to 1.
	Scale float64 `toml:"scale"`

	// Background is a #rrggbb web color filled
	// behind every composited frame. Empty defaults
	// to white.
	Background string `toml:"background"`

	// Frames is the ordered list of source image
	// paths used in sequence mode.
	Frames []string `toml:"frames"`

	// Atlas is the grid configuration used in grid
	// mode.
	Atlas AtlasConfig `toml:"atlas"`
}

// AtlasConfig is the grid-atlas section of a project document. Rows and
// cols below one and totals outside [1, rows·cols] are clamped, not
// rejected.
type AtlasConfig struct {
	Image string `toml:"image"`
	Rows  int    `toml:"rows"`
	Cols  int    `toml:"cols"`
	Total int    `toml:"total"`
}

// Load reads and normalizes the project document at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// Unmarshal parses and normalizes a project document.
func Unmarshal(b []byte) (*Config, error) {
	var c Config
	err := toml.Unmarshal(b, &c)
	if err != nil {
		return nil, err
	}
	err = c.normalize()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// normalize applies defaults and the clamping rules. Only an unknown mode
// is an error.
func (c *Config) normalize() error {
	switch c.Mode {
	case "":
		c.Mode = "sequence"
	case "sequence", "grid":
	default:
		return fmt.Errorf("unknown mode: %q", c.Mode)
	}
	if c.FPS == 0 {
		c.FPS = 12
	}
	c.FPS = min(max(c.FPS, playback.MinFPS), playback.MaxFPS)
	if c.Scale == 0 {
		c.Scale = 1
	}
	c.Scale = min(max(c.Scale, render.MinScale), render.MaxScale)
	if c.Atlas.Rows < 1 {
		c.Atlas.Rows = 1
	}
	if c.Atlas.Cols < 1 {
		c.Atlas.Cols = 1
	}
	c.Atlas.Total = min(max(c.Atlas.Total, 1), c.Atlas.Rows*c.Atlas.Cols)
	return nil
}

// BackgroundColor returns the configured background fill.
func (c *Config) BackgroundColor() (color.Color, error) {
	if c.Background == "" {
		return color.White, nil
	}
	col, err := colorful.Hex(c.Background)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	return col, nil
}

// Doc ingests the project's source images through the cache and returns
// the animation doc for the configured mode. Any source that cannot be
// decoded fails the load.
func (c *Config) Doc(cache *assets.Cache) (geometry.Doc, error) {
	switch c.Mode {
	case "grid":
		doc := geometry.Doc{Mode: geometry.Grid}
		if c.Atlas.Image == "" {
			doc.Atlas = geometry.NewAtlas(c.Atlas.Rows, c.Atlas.Cols, c.Atlas.Total, geometry.Frame{})
			return doc, nil
		}
		img, err := cache.Ingest(c.Atlas.Image)
		if err != nil {
			return geometry.Doc{}, err
		}
		doc.Atlas = geometry.NewAtlas(c.Atlas.Rows, c.Atlas.Cols, c.Atlas.Total, img)
		return doc, nil
	default:
		doc := geometry.Doc{Mode: geometry.Sequence}
		for _, path := range c.Frames {
			frame, err := cache.Ingest(path)
			if err != nil {
				return geometry.Doc{}, err
			}
			doc.Frames = append(doc.Frames, frame)
		}
		return doc, nil
	}
}
