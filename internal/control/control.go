// Package control holds the single process-wide running flag that
// coordinates cooperative shutdown across the session join-wait, the
// scheduler's interruptible sleep, and the output dispatcher's worker loop.
package control

import "sync/atomic"

// Control is safe for concurrent use by multiple goroutines.
type Control struct {
	running atomic.Bool
}

// New returns a Control already in the running state.
func New() *Control {
	c := &Control{}
	c.running.Store(true)
	return c
}

// Running reports whether the process should keep going.
func (c *Control) Running() bool {
	return c.running.Load()
}

// Stop requests shutdown. Safe to call more than once.
func (c *Control) Stop() {
	c.running.Store(false)
}
