package session

import (
	"context"

	"github.com/MrWong99/promptflux-stt/internal/wake"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// event is a message to the actor goroutine.
type event interface {
	apply(ctx context.Context, c *Coordinator)
}

type attachEvent struct{ client Client }

func (e attachEvent) apply(ctx context.Context, c *Coordinator) { c.attach(ctx, e.client) }

type detachEvent struct{ id string }

func (e detachEvent) apply(ctx context.Context, c *Coordinator) { c.detach(ctx, e.id) }

type commandEvent struct {
	client string
	cmd    Command
}

func (e commandEvent) apply(ctx context.Context, c *Coordinator) {
	c.handleCommand(ctx, e.client, e.cmd)
}

type transcriptionDone struct {
	client string
	gen    uint64
	res    stt.Result
	err    error
}

func (e transcriptionDone) apply(ctx context.Context, c *Coordinator) {
	c.finishTranscription(ctx, e)
}

// silenceElapsed is sent by the monitor of recording generation gen.
type silenceElapsed struct{ gen uint64 }

func (e silenceElapsed) apply(ctx context.Context, c *Coordinator) {
	if c.state != Recording || c.recGen != e.gen {
		return
	}
	c.log.Info("silence threshold reached, requesting auto stop")
	c.broadcast(ctx, AutoStop("silence"))
}

// probeEvent asks whether the wake loop may transcribe now.
type probeEvent struct{ reply chan<- probeGrant }

type probeGrant struct {
	ok      bool
	tun     Tunables
	matcher *wake.Matcher
}

func (e probeEvent) apply(_ context.Context, c *Coordinator) {
	e.reply <- probeGrant{ok: c.wakeEligible(), tun: c.tun, matcher: c.matcher}
}

type wakeHeardEvent struct {
	matcher *wake.Matcher
	heard   string
	match   wake.Match
}

func (e wakeHeardEvent) apply(ctx context.Context, c *Coordinator) {
	if !c.wakeEligible() || e.matcher != c.matcher {
		return
	}
	c.lastWake = c.now()
	c.log.Info("wake word detected",
		"heard", e.heard,
		"candidate", e.match.Candidate,
		"score", e.match.Score,
	)
	c.broadcast(ctx, Wake(e.matcher.Phrase(), e.heard))
}

type snapshotEvent struct{ reply chan<- Status }

func (e snapshotEvent) apply(_ context.Context, c *Coordinator) { e.reply <- c.status() }

type reloadEvent struct{ tun Tunables }

func (e reloadEvent) apply(_ context.Context, c *Coordinator) { c.reload(e.tun) }

// wakeEligible reports whether a wake probe or WAKE event is allowed now.
func (c *Coordinator) wakeEligible() bool {
	if !c.cfg.WakeLoop || c.matcher == nil || len(c.clients) == 0 || c.state != Idle {
		return false
	}
	return c.lastWake.IsZero() || c.now().Sub(c.lastWake) >= c.tun.wakeCooldown()
}
