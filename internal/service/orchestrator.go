package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ytpdf/internal/adapters/downloader"
	"ytpdf/internal/core/domain"
	"ytpdf/internal/core/ports"
	"ytpdf/internal/logging"
)

// ErrEmptySourceURL is returned before submission when no URL was given.
var ErrEmptySourceURL = errors.New("source url is required")

// Orchestrator coordinates the conversion workflow: submit, poll, record, download.
type Orchestrator struct {
	submitter  ports.Submitter
	poller     *Poller
	downloader ports.Downloader
	storage    ports.Storage
	logger     *zerolog.Logger

	pollCfg  domain.PollConfig
	index    ports.JobIndex
	handlers []ports.OutcomeHandler
	download bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPollConfig overrides the default 15s / 15m polling policy.
func WithPollConfig(cfg domain.PollConfig) Option {
	return func(o *Orchestrator) { o.pollCfg = cfg }
}

// WithJobIndex records pending jobs and outcomes in a shared index.
func WithJobIndex(idx ports.JobIndex) Option {
	return func(o *Orchestrator) { o.index = idx }
}

// WithOutcomeHandler adds a handler that receives every outcome once.
func WithOutcomeHandler(h ports.OutcomeHandler) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// WithoutDownload skips fetching the artifact after a successful job.
func WithoutDownload() Option {
	return func(o *Orchestrator) { o.download = false }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	submitter ports.Submitter,
	poller *Poller,
	downloader ports.Downloader,
	storage ports.Storage,
	logger *zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	o := &Orchestrator{
		submitter:  submitter,
		poller:     poller,
		downloader: downloader,
		storage:    storage,
		logger:     logger,
		pollCfg:    domain.DefaultPollConfig(),
		download:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunJob submits the request and waits for its terminal outcome.
// A non-nil error means the job never reached an outcome: the submission
// failed, or ctx was cancelled (polling is then cancelled as well). An outcome
// that was already produced when ctx was cancelled is still recorded and returned.
func (o *Orchestrator) RunJob(ctx context.Context, req domain.ConversionRequest) (*domain.JobResult, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, ErrEmptySourceURL
	}

	o.logger.Info().
		Str("url", req.SourceURL).
		Str("video_id", extractVideoID(req.SourceURL)).
		Str("client_id", logging.Redact(req.ClientID)).
		Msg("submitting conversion")

	handle, err := o.submitter.Submit(ctx, req)
	if err != nil {
		o.logger.Error().Err(err).Str("url", req.SourceURL).Msg("submission failed")
		return &domain.JobResult{Request: req}, err
	}

	result := &domain.JobResult{Request: req, Handle: handle}
	o.recordSubmission(ctx, handle, req)
	return o.await(ctx, result)
}

// Resume re-attaches to a previously submitted job. The timeout is still
// measured from the original submission time. If an outcome was already
// recorded it is returned without polling.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*domain.JobResult, error) {
	if outcome, err := o.Lookup(ctx, jobID); err == nil {
		return &domain.JobResult{
			Handle:      domain.JobHandle{JobID: jobID},
			Outcome:     outcome,
			CompletedAt: outcome.FinishedAt,
		}, nil
	}

	handle, req, err := o.findPending(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", jobID, err)
	}
	logging.ForJob(o.logger, jobID).Info().Time("submitted_at", handle.SubmittedAt).Msg("resuming job")

	if err := o.storage.InitJob(ctx, jobID); err != nil {
		logging.ForJob(o.logger, jobID).Warn().Err(err).Msg("failed to init job directory")
	}
	return o.await(ctx, &domain.JobResult{Request: req, Handle: handle})
}

// Lookup returns a recorded outcome from the job index, falling back to local storage.
func (o *Orchestrator) Lookup(ctx context.Context, jobID string) (domain.JobOutcome, error) {
	if o.index != nil {
		out, err := o.index.Outcome(ctx, jobID)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			logging.ForJob(o.logger, jobID).Warn().Err(err).Msg("job index lookup failed")
		}
	}
	return o.storage.LoadOutcome(ctx, jobID)
}

// History lists recorded outcomes from local storage, newest first.
func (o *Orchestrator) History(ctx context.Context) ([]domain.JobOutcome, error) {
	return o.storage.ListOutcomes(ctx)
}

func (o *Orchestrator) findPending(ctx context.Context, jobID string) (domain.JobHandle, domain.ConversionRequest, error) {
	if o.index != nil {
		p, err := o.index.Pending(ctx, jobID)
		if err == nil {
			return p.Handle, domain.ConversionRequest{SourceURL: p.SourceURL}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			logging.ForJob(o.logger, jobID).Warn().Err(err).Msg("job index lookup failed")
		}
	}
	return o.storage.LoadSubmission(ctx, jobID)
}

func (o *Orchestrator) await(ctx context.Context, result *domain.JobResult) (*domain.JobResult, error) {
	jobID := result.Handle.JobID
	log := logging.ForJob(o.logger, jobID)

	outcomes := make(chan domain.JobOutcome, 1)
	handler := ports.OutcomeHandlerFunc(func(out domain.JobOutcome) { outcomes <- out })
	if err := o.poller.Start(ctx, result.Handle, o.pollCfg, handler); err != nil {
		return result, fmt.Errorf("start polling: %w", err)
	}
	log.Info().Msg("polling for result")

	var outcome domain.JobOutcome
	recordCtx := ctx
	select {
	case outcome = <-outcomes:
	case <-ctx.Done():
		claimed := o.poller.Cancel(result.Handle)
		select {
		case outcome = <-outcomes:
		default:
			if !claimed {
				log.Info().Msg("stopped waiting for job")
				return result, ctx.Err()
			}
			// The poller claimed the outcome before Cancel; the send is imminent.
			outcome = <-outcomes
		}
		log.Info().Msg("outcome arrived as waiting stopped")
		// The outcome is final; record it even though the caller has gone away.
		recordCtx = context.WithoutCancel(ctx)
	}

	result.Outcome = outcome
	o.recordOutcome(recordCtx, outcome)
	for _, h := range o.handlers {
		h.OnJobOutcome(outcome)
	}

	if outcome.Kind == domain.OutcomeSuccess && o.download {
		path, err := o.saveArtifact(ctx, jobID, outcome.ArtifactURL)
		if err != nil {
			result.DownloadErr = err
			log.Error().Err(err).Msg("failed to download artifact")
		} else {
			result.ArtifactPath = path
			log.Info().Str("path", path).Msg("artifact saved")
		}
	}

	result.CompletedAt = time.Now().UTC()
	return result, nil
}

// recordSubmission persists the handle so the job can be resumed. The client id
// is stored redacted; polling does not need it. Failures are logged, not fatal:
// the backend has already accepted the job.
func (o *Orchestrator) recordSubmission(ctx context.Context, handle domain.JobHandle, req domain.ConversionRequest) {
	log := logging.ForJob(o.logger, handle.JobID)
	if err := o.storage.InitJob(ctx, handle.JobID); err != nil {
		log.Warn().Err(err).Msg("failed to init job directory")
		return
	}
	stored := req
	stored.ClientID = logging.Redact(req.ClientID)
	if err := o.storage.SaveSubmission(ctx, handle, stored); err != nil {
		log.Warn().Err(err).Msg("failed to save submission")
	}
	if o.index != nil {
		if err := o.index.SavePending(ctx, handle, req.SourceURL); err != nil {
			log.Warn().Err(err).Msg("failed to index pending job")
		}
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, outcome domain.JobOutcome) {
	log := logging.ForJob(o.logger, outcome.JobID)
	if err := o.storage.SaveOutcome(ctx, outcome); err != nil {
		log.Warn().Err(err).Msg("failed to save outcome")
	}
	if o.index != nil {
		if err := o.index.SaveOutcome(ctx, outcome); err != nil {
			log.Warn().Err(err).Msg("failed to index outcome")
		}
	}
}

func (o *Orchestrator) saveArtifact(ctx context.Context, jobID, artifactURL string) (string, error) {
	reader, err := o.downloader.Download(ctx, artifactURL)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	dir, err := o.storage.GetJobPath(jobID)
	if err != nil {
		return "", err
	}
	name := downloader.ArtifactFilename(artifactURL)
	if err := o.storage.SaveArtifact(ctx, jobID, reader, name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func extractVideoID(videoURL string) string {
	u, err := url.Parse(videoURL)
	if err != nil {
		return ""
	}
	if u.Host == "youtu.be" {
		return strings.TrimPrefix(u.Path, "/")
	}
	return u.Query().Get("v")
}
