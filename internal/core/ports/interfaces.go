package ports

import (
	"context"
	"io"

	"ytpdf/internal/core/domain"
)

// Submitter sends a conversion request to the backend.
type Submitter interface {
	// Submit issues exactly one request and returns the accepted job.
	// Errors are always *domain.SubmissionError.
	Submit(ctx context.Context, req domain.ConversionRequest) (domain.JobHandle, error)
}

// StatusFetcher queries the backend for the state of one job.
type StatusFetcher interface {
	// FetchStatus returns a non-nil error only for transient failures
	// (a *domain.PollError with Kind PollTransport). Structural problems
	// come back as a StateFailed or StateMalformed status.
	FetchStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
}

// OutcomeHandler consumes terminal outcomes. It is called exactly once per job.
type OutcomeHandler interface {
	OnJobOutcome(outcome domain.JobOutcome)
}

// OutcomeHandlerFunc adapts a function to OutcomeHandler.
type OutcomeHandlerFunc func(outcome domain.JobOutcome)

func (f OutcomeHandlerFunc) OnJobOutcome(outcome domain.JobOutcome) { f(outcome) }

// Downloader defines the contract for downloading finished artifacts.
type Downloader interface {
	// Download fetches the artifact from the given URL.
	// Returns a ReadCloser that the caller must close.
	Download(ctx context.Context, artifactURL string) (io.ReadCloser, error)
}

// Storage defines the contract for persisting job records and artifacts.
// Methods return domain.ErrInvalidJobID for ids that cannot name a record.
type Storage interface {
	// InitJob creates the job directory structure.
	InitJob(ctx context.Context, jobID string) error

	// SaveSubmission records the accepted handle together with the request.
	SaveSubmission(ctx context.Context, handle domain.JobHandle, req domain.ConversionRequest) error

	// LoadSubmission returns a previously saved handle and request.
	// Returns domain.ErrNotFound when the job is unknown.
	LoadSubmission(ctx context.Context, jobID string) (domain.JobHandle, domain.ConversionRequest, error)

	// SaveOutcome records the terminal outcome of a job.
	SaveOutcome(ctx context.Context, outcome domain.JobOutcome) error

	// LoadOutcome returns a recorded outcome or domain.ErrNotFound.
	LoadOutcome(ctx context.Context, jobID string) (domain.JobOutcome, error)

	// ListOutcomes returns every recorded outcome, most recent first.
	ListOutcomes(ctx context.Context) ([]domain.JobOutcome, error)

	// SaveArtifact saves the artifact from the provided reader.
	SaveArtifact(ctx context.Context, jobID string, reader io.Reader, filename string) error

	// GetJobPath returns the filesystem path for a given job ID.
	GetJobPath(jobID string) (string, error)
}

// PendingJob is a submitted job that has no outcome yet.
type PendingJob struct {
	Handle    domain.JobHandle `json:"handle"`
	SourceURL string           `json:"source_url"`
}

// JobIndex is a shared index of pending jobs and their outcomes.
type JobIndex interface {
	SavePending(ctx context.Context, handle domain.JobHandle, sourceURL string) error
	Pending(ctx context.Context, jobID string) (PendingJob, error)
	SaveOutcome(ctx context.Context, outcome domain.JobOutcome) error
	Outcome(ctx context.Context, jobID string) (domain.JobOutcome, error)
}

// AudioUploader sends a recorded audio file to the backend.
type AudioUploader interface {
	Upload(ctx context.Context, audioPath, clientID string) error
}
