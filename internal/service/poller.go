package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ytpdf/internal/core/domain"
	"ytpdf/internal/core/ports"
	"ytpdf/internal/logging"
	"ytpdf/internal/metrics"
)

var (
	// ErrAlreadyPolling is returned by Start when the job id already has an active poll.
	ErrAlreadyPolling = errors.New("job is already being polled")
	errEmptyJobID     = errors.New("job id is required")
	errNilHandler     = errors.New("outcome handler is required")
)

// Poller polls job status until each job reaches a terminal outcome.
// Each job runs in its own goroutine; requests for one job never overlap.
type Poller struct {
	fetcher ports.StatusFetcher
	logger  *zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	active map[string]*pollTask
	wg     sync.WaitGroup
}

type pollTask struct {
	handle domain.JobHandle
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool // outcome delivered or cancelled
}

// claim marks the task finished. Only the first caller gets true.
func (t *pollTask) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// NewPoller creates a new Poller.
func NewPoller(fetcher ports.StatusFetcher, logger *zerolog.Logger) *Poller {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Poller{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
		active:  make(map[string]*pollTask),
	}
}

// Start polls the job in the background and returns immediately.
// onOutcome is called exactly once with the terminal outcome, unless the
// job is cancelled first (Cancel or ctx), in which case it is never called.
func (p *Poller) Start(ctx context.Context, handle domain.JobHandle, cfg domain.PollConfig, onOutcome ports.OutcomeHandler) error {
	if handle.JobID == "" {
		return errEmptyJobID
	}
	if onOutcome == nil {
		return errNilHandler
	}
	if cfg.Interval <= 0 {
		cfg.Interval = domain.DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = domain.DefaultPollTimeout
	}
	if handle.SubmittedAt.IsZero() {
		handle.SubmittedAt = p.now()
	}

	p.mu.Lock()
	if _, ok := p.active[handle.JobID]; ok {
		p.mu.Unlock()
		return ErrAlreadyPolling
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &pollTask{handle: handle, cancel: cancel}
	p.active[handle.JobID] = t
	p.wg.Add(1)
	p.mu.Unlock()

	metrics.PollStarted()
	go p.run(taskCtx, t, cfg, onOutcome)
	return nil
}

// Cancel stops polling the job and suppresses any outcome not yet claimed
// for delivery. It returns true when the outcome had already been claimed:
// the handler is then being called, or is about to be, and Cancel cannot stop it.
// Cancelling an unknown, finished or already cancelled job is a no-op that returns false.
func (p *Poller) Cancel(handle domain.JobHandle) bool {
	p.mu.Lock()
	t, ok := p.active[handle.JobID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	defer t.cancel()
	if t.claim() {
		logging.ForJob(p.logger, handle.JobID).Info().Msg("polling cancelled")
		return false
	}
	return true
}

// Active returns the number of jobs currently being polled.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// IsPolling reports whether the job id has an active poll.
func (p *Poller) IsPolling(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[jobID]
	return ok
}

// Wait blocks until every started poll has stopped.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, t *pollTask, cfg domain.PollConfig, onOutcome ports.OutcomeHandler) {
	defer p.wg.Done()
	defer metrics.PollStopped()
	defer p.remove(t)
	defer t.cancel()

	jobID := t.handle.JobID
	log := logging.ForJob(p.logger, jobID)
	log.Debug().Dur("interval", cfg.Interval).Dur("timeout", cfg.Timeout).Msg("polling started")

	polls := 0
	for {
		if ctx.Err() != nil {
			return
		}

		polls++
		status, err := p.fetcher.FetchStatus(ctx, jobID)
		if ctx.Err() != nil {
			// Cancelled while the request was in flight: drop the response.
			return
		}

		outcome, terminal := p.interpret(log, jobID, status, err)
		if !terminal && p.expired(t, cfg) {
			outcome, terminal = domain.TimeoutOutcome(jobID), true
		}
		if terminal {
			p.finish(log, t, outcome, polls, onOutcome)
			return
		}

		// Sleep until the next poll, or until the deadline if that comes first.
		wait := cfg.Interval
		if left := t.handle.SubmittedAt.Add(cfg.Timeout).Sub(p.now()); left < wait {
			wait = left
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if p.expired(t, cfg) {
			p.finish(log, t, domain.TimeoutOutcome(jobID), polls, onOutcome)
			return
		}
	}
}

func (p *Poller) expired(t *pollTask, cfg domain.PollConfig) bool {
	return p.now().Sub(t.handle.SubmittedAt) >= cfg.Timeout
}

// interpret folds one poll result into either a terminal outcome or "keep polling".
func (p *Poller) interpret(log *zerolog.Logger, jobID string, status domain.JobStatus, err error) (domain.JobOutcome, bool) {
	if err != nil {
		var perr *domain.PollError
		if errors.As(err, &perr) && !perr.Transient() {
			metrics.IncPoll(metrics.ResultTerminal)
			return domain.FailureOutcome(jobID, perr), true
		}
		metrics.IncPoll(metrics.ResultTransient)
		log.Warn().Err(err).Msg("status request failed, will retry")
		return domain.JobOutcome{}, false
	}

	switch status.State {
	case domain.StateRunning:
		metrics.IncPoll(metrics.ResultRunning)
		log.Debug().Msg("job still running")
		return domain.JobOutcome{}, false
	case domain.StateSucceeded:
		metrics.IncPoll(metrics.ResultOK)
		return domain.SuccessOutcome(jobID, status.ArtifactURL), true
	default:
		metrics.IncPoll(metrics.ResultTerminal)
		return domain.FailureOutcome(jobID, status.Err), true
	}
}

// finish delivers the outcome unless the job was cancelled first. The task
// stays registered until the handler returns so Cancel can see the claim.
func (p *Poller) finish(log *zerolog.Logger, t *pollTask, outcome domain.JobOutcome, polls int, onOutcome ports.OutcomeHandler) {
	if !t.claim() {
		return
	}
	outcome.Polls = polls
	outcome.FinishedAt = p.now().UTC()
	metrics.IncOutcome(string(outcome.Kind))

	ev := log.Info()
	if outcome.Kind != domain.OutcomeSuccess {
		ev = log.Warn().Str("class", string(outcome.Class)).Str("reason", outcome.Message)
	}
	ev.Str("outcome", string(outcome.Kind)).Int("polls", outcome.Polls).Msg("job finished")

	onOutcome.OnJobOutcome(outcome)
}

func (p *Poller) remove(t *pollTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.active[t.handle.JobID]; ok && cur == t {
		delete(p.active, t.handle.JobID)
	}
}
