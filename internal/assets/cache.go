// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package assets provides decoded image loading and memoization.
package assets

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kortschak/flip/internal/geometry"
)

// Cache loads and memoizes decoded raster images keyed by source path.
// Entries are read-only after decode and may be shared. Decode failures
// are not memoized, so a later Get for the same source retries the
// decode.
type Cache struct {
	log *slog.Logger

	mu     sync.Mutex
	images map[string]image.Image
}

// NewCache returns an empty cache logging to log.
func NewCache(log *slog.Logger) *Cache {
	return &Cache{
		log:    log.With(slog.String("component", "assets")),
		images: make(map[string]image.Image),
	}
}

// Get returns the decoded image for the source path, decoding and
// memoizing it on first use.
func (c *Cache) Get(source string) (image.Image, error) {
	if c == nil {
		return nil, fmt.Errorf("decode %s: no cache", source)
	}
	c.mu.Lock()
	img, ok := c.images[source]
	c.mu.Unlock()
	if ok {
		return img, nil
	}
	img, err := decode(source)
	if err != nil {
		c.log.LogAttrs(context.Background(), slog.LevelWarn, "decode failed",
			slog.String("source", source), slog.Any("error", err))
		return nil, err
	}
	c.mu.Lock()
	c.images[source] = img
	c.mu.Unlock()
	c.log.LogAttrs(context.Background(), slog.LevelDebug, "decoded",
		slog.String("source", source), slog.Any("bounds", img.Bounds()))
	return img, nil
}

// Ingest decodes the source path, memoizes the image and returns the
// frame record for it.
func (c *Cache) Ingest(source string) (geometry.Frame, error) {
	img, err := c.Get(source)
	if err != nil {
		return geometry.Frame{}, err
	}
	b := img.Bounds()
	return geometry.Frame{Source: source, Width: b.Dx(), Height: b.Dy()}, nil
}

// Invalidate drops the entry for the source path if one is held. It
// reports whether an entry was dropped.
func (c *Cache) Invalidate(source string) bool {
	c.mu.Lock()
	_, ok := c.images[source]
	delete(c.images, source)
	c.mu.Unlock()
	return ok
}

// Len returns the number of memoized images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

func decode(source string) (image.Image, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}
	return img, nil
}
