// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package playback advances a frame index over wall-clock time.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FPS bounds for the playback clock.
const (
	MinFPS = 1
	MaxFPS = 60
)

// Clock is a time-driven frame index advancer. A running clock ticks
// every 1000/fps milliseconds, advancing the index modulo the frame count
// reported by the supplier. At most one ticker is live at any time; every
// path out of the running state stops it exactly once.
type Clock struct {
	log *slog.Logger

	// frames reports the current playable frame
	// count. It must be safe to call from the
	// tick goroutine.
	frames func() int

	// onAdvance is called with the new index after
	// each tick, outside the clock's lock.
	onAdvance func(int)

	mu     sync.Mutex
	index  int
	fps    int
	ticker *time.Ticker
	done   chan struct{}
}

// NewClock returns a stopped clock at index zero. The frames supplier
// must be non-nil; onAdvance may be nil.
func NewClock(frames func() int, onAdvance func(int), log *slog.Logger) *Clock {
	return &Clock{
		log:       log.With(slog.String("component", "playback")),
		frames:    frames,
		onAdvance: onAdvance,
		fps:       12,
	}
}

// Play starts the clock if it is stopped and there is at least one
// playable frame. Calling Play on a running clock has no effect.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || c.frames() == 0 {
		return
	}
	c.ticker = time.NewTicker(interval(c.fps))
	c.done = make(chan struct{})
	c.log.LogAttrs(context.Background(), slog.LevelDebug, "play",
		slog.Int("index", c.index), slog.Int("fps", c.fps))
	go c.run(c.ticker, c.done)
}

func (c *Clock) run(ticker *time.Ticker, done chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.advance()
		}
	}
}

// advance moves the index forward one frame, stopping the clock if the
// frame count has dropped to zero.
func (c *Clock) advance() {
	c.mu.Lock()
	n := c.frames()
	if n == 0 {
		c.stopLocked()
		c.index = 0
		c.mu.Unlock()
		return
	}
	c.index = (c.index + 1) % n
	i, fn := c.index, c.onAdvance
	c.mu.Unlock()
	if fn != nil {
		fn(i)
	}
}

// Pause stops the clock, retaining the current index.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

// stopLocked cancels the pending tick. It must be called with the clock's
// lock held and is a no-op on a stopped clock.
func (c *Clock) stopLocked() {
	if c.done == nil {
		return
	}
	close(c.done)
	c.done = nil
	c.ticker = nil
	c.log.LogAttrs(context.Background(), slog.LevelDebug, "stop", slog.Int("index", c.index))
}

// Playing reports whether the clock is running.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

// Index returns the current frame index.
func (c *Clock) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Scrub sets the index directly, reduced modulo the frame count, and
// stops the clock.
func (c *Clock) Scrub(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	n := c.frames()
	if n == 0 {
		c.index = 0
		return
	}
	c.index = ((i % n) + n) % n
}

// FPS returns the clock's frame rate.
func (c *Clock) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// SetFPS sets the frame rate, clamped into [MinFPS, MaxFPS]. If the clock
// is running the pending tick is rescheduled at the new interval without
// resetting the index.
func (c *Clock) SetFPS(fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = min(max(fps, MinFPS), MaxFPS)
	if c.ticker != nil {
		c.ticker.Reset(interval(c.fps))
	}
}

// Reset stops the clock and returns the index to zero. It is the
// transition used on mode switches.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.index = 0
}

// Refresh re-establishes the index invariant after a data set change,
// stopping the clock and reducing the index modulo the new frame count.
func (c *Clock) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	n := c.frames()
	if n == 0 {
		c.index = 0
		return
	}
	c.index %= n
}

// Interval returns the tick interval for the clock's current frame rate.
func (c *Clock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return interval(c.fps)
}

func interval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}
