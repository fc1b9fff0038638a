package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ytpdf/internal/core/domain"
)

type fetchResult struct {
	status domain.JobStatus
	err    error
}

// scriptedFetcher replays results in order and repeats the last one forever.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   atomic.Int32
	// release, when set, blocks each call until a value arrives. It ignores ctx
	// to simulate a response that lands after cancellation.
	release chan struct{}
	started chan struct{}
}

func newScriptedFetcher(results ...fetchResult) *scriptedFetcher {
	return &scriptedFetcher{results: results}
}

func (f *scriptedFetcher) FetchStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	n := int(f.calls.Add(1))
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := n - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	return r.status, r.err
}

func running() fetchResult { return fetchResult{status: domain.Running()} }

func succeeded(url string) fetchResult { return fetchResult{status: domain.Succeeded(url)} }

func transient() fetchResult {
	return fetchResult{err: domain.PollTransportError(context.DeadlineExceeded)}
}

// outcomeRecorder collects outcomes delivered to it.
type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []domain.JobOutcome
	ch       chan domain.JobOutcome
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{ch: make(chan domain.JobOutcome, 16)}
}

func (r *outcomeRecorder) OnJobOutcome(o domain.JobOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	r.ch <- o
}

func (r *outcomeRecorder) all() []domain.JobOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobOutcome(nil), r.outcomes...)
}

func fastPoll() domain.PollConfig {
	return domain.PollConfig{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second}
}
