package session

import (
	"context"
	"time"

	"github.com/MrWong99/promptflux-stt/internal/wake"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// wakeLoop periodically transcribes the most recent audio and reports wake
// phrase matches to the actor. It only probes while the actor allows it:
// with clients attached, while idle and outside the cooldown.
func (c *Coordinator) wakeLoop(ctx context.Context) {
	timer := time.NewTimer(c.cfg.Tunables.wakePoll())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		grant, ok := c.requestProbe(ctx)
		if !ok {
			return
		}
		if grant.ok {
			c.probeWake(ctx, grant)
		}
		timer.Reset(grant.tun.wakePoll())
	}
}

func (c *Coordinator) requestProbe(ctx context.Context) (probeGrant, bool) {
	reply := make(chan probeGrant, 1)
	if !c.sendCtx(ctx, probeEvent{reply: reply}) {
		return probeGrant{}, false
	}
	select {
	case g := <-reply:
		return g, true
	case <-ctx.Done():
		return probeGrant{}, false
	case <-c.loopDone:
		return probeGrant{}, false
	}
}

func (c *Coordinator) probeWake(ctx context.Context, g probeGrant) {
	rate := c.capture.SampleRate()
	samples := c.capture.RecentAudio(int(g.tun.WakeWindow.Milliseconds()))
	if float64(len(samples)) < float64(rate)*minWakeAudio {
		return
	}

	res, err := c.transcribe(ctx, "wake", stt.Request{
		Samples:    samples,
		SampleRate: rate,
		Language:   stt.NormalizeLanguage(c.cfg.Language),
		Prompt:     g.tun.prompt(g.matcher.Phrase()),
	})
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("wake-word transcription failed", "err", err)
		}
		return
	}

	heard := wake.Normalize(res.Text)
	if heard == "" {
		return
	}
	match, accepted := g.matcher.Accept(heard)
	if c.metrics != nil {
		c.metrics.RecordWakeScore(ctx, match.Score, accepted)
	}
	if !accepted {
		c.log.Debug("wake probe rejected", "heard", heard, "score", match.Score)
		return
	}
	c.sendCtx(ctx, wakeHeardEvent{matcher: g.matcher, heard: heard, match: match})
}
