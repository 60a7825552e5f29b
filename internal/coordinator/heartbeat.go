// Package coordinator implements the connection-facing half of the Censer
// fabric. This file implements the per-handle heartbeat monitor.
package coordinator

import (
	"context"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the pause between liveness probes.
const DefaultHeartbeatInterval = time.Second

// Heartbeat drives the periodic liveness probe for one worker handle: probe,
// await, sleep, repeat, stopping the moment a probe fails. The handle has
// already fired its disconnect event and eviction on that path, so the
// monitor has nothing more to do than exit.
//
// Stop is idempotent and never blocks on an in-flight probe, so stopping a
// monitor cannot deadlock against a handle that is simultaneously tearing
// itself down.
type Heartbeat struct {
	handle   *Handle
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	stop   sync.Once
	done   chan struct{}
}

// NewHeartbeat creates a monitor for h. A non-positive interval selects
// DefaultHeartbeatInterval.
func NewHeartbeat(h *Handle, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Heartbeat{
		handle:   h,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start runs the probe loop in the calling goroutine until the first failed
// probe or until Stop. Run it in its own goroutine:
//
//	go beat.Start()
func (b *Heartbeat) Start() {
	defer close(b.done)

	for {
		if _, err := b.handle.CheckLiveness().Result(); err != nil {
			b.handle.log.WithError(err).Debug("heartbeat probe failed, monitor exiting")
			return
		}

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(b.interval):
		}
	}
}

// Stop asks the loop to exit after any in-flight probe settles. Idempotent;
// it does not wait for the loop to finish (see Done).
func (b *Heartbeat) Stop() {
	b.stop.Do(b.cancel)
}

// Done is closed when the probe loop has fully exited.
func (b *Heartbeat) Done() <-chan struct{} {
	return b.done
}
