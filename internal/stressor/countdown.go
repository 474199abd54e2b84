package stressor

import (
	"sync"
	"time"

	"github.com/studyflowlab/studyflow/internal/timeutil"
)

// Countdown is the per-answer timer. It ticks at 1 Hz, invokes onExpire when
// it reaches zero, and is reset after every judged answer regardless of
// correctness.
type Countdown struct {
	mu        sync.Mutex
	clock     timeutil.Clock
	seconds   int
	remaining int
	timer     timeutil.Timer
	// gen invalidates ticks armed before a Reset or Stop so a late-firing
	// timer cannot decrement a fresh countdown.
	gen      uint64
	onTick   func(remaining int)
	onExpire func()
	running  bool
}

// NewCountdown creates a stopped countdown. onTick and onExpire may be nil.
func NewCountdown(clock timeutil.Clock, seconds int, onTick func(int), onExpire func()) *Countdown {
	if clock == nil {
		clock = timeutil.Real{}
	}
	if seconds <= 0 {
		seconds = DefaultAnswerSeconds
	}
	return &Countdown{clock: clock, seconds: seconds, onTick: onTick, onExpire: onExpire}
}

// Start begins (or restarts) the countdown from the full answer window.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Reset restarts the countdown from the full window; called after every
// judged answer.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.resetLocked()
}

// Stop cancels the countdown.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Remaining returns the seconds left in the current window.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) resetLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
	}
	c.running = true
	c.remaining = c.seconds
	c.armLocked()
}

func (c *Countdown) armLocked() {
	gen := c.gen
	c.timer = c.clock.AfterFunc(time.Second, func() {
		c.tick(gen)
	})
}

func (c *Countdown) tick(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	expired := remaining <= 0
	if expired {
		c.running = false
		c.timer = nil
	} else {
		c.armLocked()
	}
	onTick := c.onTick
	onExpire := c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
}
