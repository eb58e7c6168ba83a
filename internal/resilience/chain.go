package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// ErrAllFailed is returned when every engine of a [Chain] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all engines failed")

// Engine is a named transcription engine.
type Engine struct {
	Name        string
	Transcriber stt.Transcriber
}

// Chain is an ordered list of engines, each behind its own [Breaker]. A
// request goes to the first engine whose breaker admits it; on failure the
// next one is tried.
type Chain struct {
	entries []chainEntry
}

type chainEntry struct {
	engine  Engine
	breaker *Breaker
}

var _ stt.Transcriber = (*Chain)(nil)

// NewChain builds a chain over engines in priority order. Each engine gets a
// breaker configured from cfg with the engine's name.
func NewChain(cfg BreakerConfig, engines []Engine, opts ...BreakerOption) (*Chain, error) {
	if len(engines) == 0 {
		return nil, errors.New("resilience: chain needs at least one engine")
	}
	c := &Chain{entries: make([]chainEntry, 0, len(engines))}
	for _, e := range engines {
		if e.Transcriber == nil {
			return nil, fmt.Errorf("resilience: engine %q has no transcriber", e.Name)
		}
		bc := cfg
		bc.Name = e.Name
		c.entries = append(c.entries, chainEntry{engine: e, breaker: NewBreaker(bc, opts...)})
	}
	return c, nil
}

// Transcribe runs req against the engines in order and returns the first
// success. When all fail, the error wraps [ErrAllFailed] and lists every
// engine's failure. A cancelled context stops the fold immediately.
func (c *Chain) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}
	diagnostics := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		var res stt.Result
		start := time.Now()
		err := e.breaker.Execute(func() error {
			var err error
			res, err = e.engine.Transcriber.Transcribe(ctx, req)
			return err
		})
		if err == nil {
			if res.Duration == 0 {
				res.Duration = time.Since(start)
			}
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("resilience: %s: %w", e.engine.Name, ctxErr)
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping engine, circuit open", "engine", e.engine.Name)
		} else {
			slog.Warn("engine failed, trying next", "engine", e.engine.Name, "err", err)
		}
		diagnostics = append(diagnostics, e.engine.Name+": "+err.Error())
	}
	return stt.Result{}, fmt.Errorf("%w: %s", ErrAllFailed, strings.Join(diagnostics, " | "))
}

// Healthy reports whether at least one engine's breaker is not open.
func (c *Chain) Healthy() bool {
	for _, e := range c.entries {
		if e.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// States returns the breaker state of every engine, keyed by name.
func (c *Chain) States() map[string]State {
	out := make(map[string]State, len(c.entries))
	for _, e := range c.entries {
		out[e.engine.Name] = e.breaker.State()
	}
	return out
}

// Names returns the engine names in priority order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.engine.Name
	}
	return out
}
