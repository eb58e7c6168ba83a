package session

import (
	"context"
	"time"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// startMonitor launches the silence monitor for recording generation gen.
// Must be called from the actor.
func (c *Coordinator) startMonitor(ctx context.Context, gen uint64) {
	mctx, cancel := context.WithCancel(ctx)
	c.monitorCancel = cancel
	limits := c.tun.silenceLimits()
	c.spawn(func() { c.monitorSilence(mctx, gen, limits) })
}

// cancelMonitor stops the running silence monitor, if any. Must be called
// from the actor.
func (c *Coordinator) cancelMonitor() {
	if c.monitorCancel != nil {
		c.monitorCancel()
		c.monitorCancel = nil
	}
}

// monitorSilence polls the RMS level of the live buffer. Nothing happens
// until speech has been heard and the start grace has passed; after that a
// window at or below the silence level starts the timer and any louder window
// resets it. When the timer reaches the required duration the actor is told
// and the monitor exits.
func (c *Coordinator) monitorSilence(ctx context.Context, gen uint64, l silenceLimits) {
	started := c.now()
	var (
		speech      bool
		silentSince time.Time
	)
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := c.now()
		rms := audio.RMS(c.capture.RecentAudio(l.windowMs))
		switch {
		case rms >= l.speech:
			speech = true
			silentSince = time.Time{}
		case !speech || now.Sub(started) < l.grace:
			// Too early to judge silence.
		case rms <= l.silence:
			if silentSince.IsZero() {
				silentSince = now
			} else if now.Sub(silentSince) >= l.required {
				c.sendCtx(ctx, silenceElapsed{gen: gen})
				return
			}
		default:
			silentSince = time.Time{}
		}
	}
}
