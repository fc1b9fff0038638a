package domain

import "time"

// ConversionRequest is the caller input for one conversion.
type ConversionRequest struct {
	SourceURL string `json:"youtube_url"`
	ClientID  string `json:"deviceToken"` // push/device token supplied by the host
}

// JobHandle identifies a job accepted by the conversion backend.
type JobHandle struct {
	JobID       string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobState is the interpreted state of a single status poll.
type JobState int

const (
	StateRunning JobState = iota
	StateSucceeded
	StateFailed
	StateMalformed
)

func (s JobState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// JobStatus is the result of one status query. It only lives for one poll cycle.
type JobStatus struct {
	State       JobState
	ArtifactURL string     // set when State == StateSucceeded
	Err         *PollError // set when State is StateFailed or StateMalformed
}

// Running returns a status for a job that is still in progress.
func Running() JobStatus { return JobStatus{State: StateRunning} }

// Succeeded returns a status carrying the artifact location.
func Succeeded(artifactURL string) JobStatus {
	return JobStatus{State: StateSucceeded, ArtifactURL: artifactURL}
}

// Failed returns a terminal failure status.
func Failed(err *PollError) JobStatus { return JobStatus{State: StateFailed, Err: err} }

// Malformed returns a status for a response that could not be decoded.
func Malformed(err *PollError) JobStatus { return JobStatus{State: StateMalformed, Err: err} }

// OutcomeKind is the terminal result class of a job.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// JobOutcome is delivered exactly once per submitted job.
type JobOutcome struct {
	JobID       string       `json:"job_id"`
	Kind        OutcomeKind  `json:"kind"`
	ArtifactURL string       `json:"artifact_url,omitempty"`
	Message     string       `json:"message,omitempty"`
	Class       FailureClass `json:"class,omitempty"`
	Polls       int          `json:"polls"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// SuccessOutcome builds a Success outcome.
func SuccessOutcome(jobID, artifactURL string) JobOutcome {
	return JobOutcome{JobID: jobID, Kind: OutcomeSuccess, ArtifactURL: artifactURL}
}

// FailureOutcome builds a Failure outcome from a structural poll error.
func FailureOutcome(jobID string, err *PollError) JobOutcome {
	class := ClassBadData
	msg := "The conversion failed."
	if err != nil {
		class = err.Class()
		msg = err.Error()
	}
	return JobOutcome{JobID: jobID, Kind: OutcomeFailure, Class: class, Message: msg}
}

// TimeoutOutcome builds a Timeout outcome.
func TimeoutOutcome(jobID string) JobOutcome {
	return JobOutcome{
		JobID:   jobID,
		Kind:    OutcomeTimeout,
		Class:   ClassTimeout,
		Message: ClassTimeout.UserMessage(),
	}
}

// UserMessage returns the text the presentation layer should show.
func (o JobOutcome) UserMessage() string {
	if o.Kind == OutcomeSuccess {
		return "Your PDF is ready."
	}
	return o.Class.UserMessage()
}

// PollConfig controls polling cadence.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

const (
	DefaultPollInterval = 15 * time.Second
	DefaultPollTimeout  = 15 * time.Minute
)

// DefaultPollConfig returns the 15s / 15m polling policy.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: DefaultPollInterval, Timeout: DefaultPollTimeout}
}

// JobResult holds everything the orchestrator learned about one job.
type JobResult struct {
	Request      ConversionRequest
	Handle       JobHandle
	Outcome      JobOutcome
	ArtifactPath string
	DownloadErr  error
	CompletedAt  time.Time
}

// Success reports whether the job produced an artifact.
func (r *JobResult) Success() bool {
	return r.Outcome.Kind == OutcomeSuccess
}
