// internal/driver/tickclock.go

package driver

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickClock emits ticks and counts them atomically. A tick the consumer
// has not picked up yet absorbs later ones, so a slow frame never queues a
// burst of stale ticks.
type TickClock struct {
	Ch       chan struct{}
	count    atomic.Int64
	coalesce atomic.Int64
	stop     chan struct{}
	once     sync.Once
}

// NewTickClock creates a clock but does not start it.
func NewTickClock() *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Start begins emitting ticks at the given interval.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case c.Ch <- struct{}{}:
				default:
					c.coalesce.Add(1)
				}
			case <-c.stop:
				close(c.Ch)
				return
			}
		}
	}()
}

// Stop signals the clock to stop emitting ticks. Safe to call twice.
func (c *TickClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Count returns the current tick count atomically.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

// Coalesced returns how many ticks were folded into a pending one.
func (c *TickClock) Coalesced() int64 {
	return c.coalesce.Load()
}
