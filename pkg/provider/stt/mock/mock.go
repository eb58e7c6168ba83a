// Package mock provides a test double for the stt.Transcriber interface.
//
// Results are served from the Results queue in order; once the queue is
// empty the last entry is repeated. Set Block to make Transcribe wait until
// the channel is closed or the context is cancelled, which lets tests observe
// the Transcribing state.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []stt.Result{{Text: "hello"}}}
//	res, _ := tr.Transcribe(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order; the last one repeats.
	Results []stt.Result

	// Func, if non-nil, computes the result instead of Results.
	Func func(req stt.Request) (stt.Result, error)

	// Err, if non-nil, is returned from every call.
	Err error

	// Block, if non-nil, is waited on before returning.
	Block chan struct{}

	// Calls records every request in call order. Samples are copied.
	Calls []stt.Request

	served int
}

// Transcribe records req and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	m.mu.Lock()
	rec := req
	rec.Samples = append([]float32(nil), req.Samples...)
	m.Calls = append(m.Calls, rec)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return stt.Result{}, m.Err
	}
	if m.Func != nil {
		return m.Func(req)
	}
	if len(m.Results) == 0 {
		return stt.Result{}, nil
	}
	i := min(m.served, len(m.Results)-1)
	m.served++
	return m.Results[i], nil
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request and whether there was one.
func (m *Transcriber) LastCall() (stt.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return stt.Request{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// SetErr replaces Err under the lock.
func (m *Transcriber) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}
