// Package reconnect implements the exponential-backoff reconnection
// driver shared by the remote backend (C5). It deliberately does not use
// a generic retry library: the spec pins an exact delay sequence and
// requires the single in-flight timer to be cancellable mid-wait by
// destroy, coupled atomically to the connection-status state machine.
package reconnect

import (
	"math"
	"sync"
	"time"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

// NextDelay computes the delay before the (retryCount+1)'th reconnect
// attempt: min(initialDelay * multiplier^retryCount, maxDelay).
func NextDelay(cfg agentbe.ReconnectionConfig, retryCount int) time.Duration {
	delayMs := float64(cfg.InitialDelayMs) * math.Pow(cfg.BackoffMultiplier, float64(retryCount))
	if maxMs := float64(cfg.MaxDelayMs); delayMs > maxMs {
		delayMs = maxMs
	}
	return time.Duration(delayMs) * time.Millisecond
}

// ShouldSchedule reports whether a reconnect attempt should be scheduled
// given the policy and the number of retries already made.
func ShouldSchedule(cfg agentbe.ReconnectionConfig, retryCount int) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.MaxRetries > 0 && retryCount >= cfg.MaxRetries {
		return false
	}
	return true
}

// Controller arms at most one reconnect timer at a time and drives the
// connect callback on fire, incrementing and resetting the retry counter
// per §4.5.
type Controller struct {
	cfg     agentbe.ReconnectionConfig
	connect func() error
	onArm   func(delay time.Duration)

	mu         sync.Mutex
	retryCount int
	timer      *time.Timer
	destroyed  bool
}

// New creates a Controller. connect is invoked on every (re)connect
// attempt; onArm, if non-nil, is invoked synchronously when a timer is
// armed, useful for pairing with a status.Manager transition to
// "reconnecting".
func New(cfg agentbe.ReconnectionConfig, connect func() error, onArm func(time.Duration)) *Controller {
	return &Controller{cfg: cfg, connect: connect, onArm: onArm}
}

// RetryCount returns the number of failed attempts made since the last
// successful connect (or since construction).
func (c *Controller) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// NotifyConnected resets the retry counter after a successful connect.
func (c *Controller) NotifyConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = 0
}

// ScheduleReconnect arms a one-shot timer for the next retry, unless the
// policy says to stop or the controller has been destroyed. At most one
// timer is ever in flight: a prior pending timer is stopped first.
func (c *Controller) ScheduleReconnect() {
	c.mu.Lock()
	if c.destroyed || !ShouldSchedule(c.cfg, c.retryCount) {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	delay := NextDelay(c.cfg, c.retryCount)
	if c.onArm != nil {
		c.onArm(delay)
	}
	c.timer = time.AfterFunc(delay, c.fire)
	c.mu.Unlock()
}

func (c *Controller) fire() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.retryCount++
	connect := c.connect
	c.mu.Unlock()

	if err := connect(); err != nil {
		c.ScheduleReconnect()
	} else {
		c.NotifyConnected()
	}
}

// Destroy cancels any pending timer and prevents further scheduling. It
// never itself initiates a new connect attempt.
func (c *Controller) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
