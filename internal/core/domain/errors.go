package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by job records when nothing is stored for a job id.
var ErrNotFound = errors.New("job not found")

// ErrInvalidJobID is returned when a job id cannot name a job record.
var ErrInvalidJobID = errors.New("invalid job id")

// FailureClass groups failures by what the user can do about them.
type FailureClass string

const (
	ClassNetwork  FailureClass = "network"
	ClassRejected FailureClass = "rejected"
	ClassBadData  FailureClass = "bad_data"
	ClassTimeout  FailureClass = "timeout"
)

// UserMessage returns a human-readable description of the class.
func (c FailureClass) UserMessage() string {
	switch c {
	case ClassNetwork:
		return "Could not reach the conversion service. Check your connection and try again."
	case ClassRejected:
		return "The conversion service rejected the request. Check the video link and try again."
	case ClassBadData:
		return "The conversion service returned a response we could not understand. Please try again later."
	case ClassTimeout:
		return "The conversion took too long to complete. Please try again."
	default:
		return "Something went wrong while processing your request."
	}
}

// SubmissionErrorKind enumerates why a submission failed.
type SubmissionErrorKind string

const (
	SubmitMissingClientID   SubmissionErrorKind = "missing_client_id"
	SubmitTransport         SubmissionErrorKind = "transport"
	SubmitUnexpectedStatus  SubmissionErrorKind = "unexpected_status"
	SubmitMalformedEnvelope SubmissionErrorKind = "malformed_envelope"
	SubmitMissingJobID      SubmissionErrorKind = "missing_job_id"
)

// SubmissionError is returned synchronously by Submit and Upload.
type SubmissionError struct {
	Kind SubmissionErrorKind
	// StatusCode is the outer envelope or HTTP status for SubmitUnexpectedStatus.
	StatusCode int
	Message    string
	Cause      error
}

func (e *SubmissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// Is matches another *SubmissionError by kind, so sentinels work with errors.Is.
func (e *SubmissionError) Is(target error) bool {
	t, ok := target.(*SubmissionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Class maps the error onto a user-facing failure class.
func (e *SubmissionError) Class() FailureClass {
	switch e.Kind {
	case SubmitTransport:
		return ClassNetwork
	case SubmitUnexpectedStatus, SubmitMissingClientID:
		return ClassRejected
	default:
		return ClassBadData
	}
}

// Sentinels for errors.Is.
var (
	ErrMissingClientID   = &SubmissionError{Kind: SubmitMissingClientID, Message: "client id is required"}
	ErrSubmitTransport   = &SubmissionError{Kind: SubmitTransport, Message: "submission transport failure"}
	ErrUnexpectedStatus  = &SubmissionError{Kind: SubmitUnexpectedStatus, Message: "unexpected submission status"}
	ErrMalformedEnvelope = &SubmissionError{Kind: SubmitMalformedEnvelope, Message: "malformed submission envelope"}
	ErrMissingJobID      = &SubmissionError{Kind: SubmitMissingJobID, Message: "submission response has no job_id"}
)

// SubmitTransportError wraps a network failure during submission.
func SubmitTransportError(cause error) *SubmissionError {
	return &SubmissionError{Kind: SubmitTransport, Message: "submission request failed", Cause: cause}
}

// UnexpectedStatusError reports a non-accepted status code.
func UnexpectedStatusError(code int) *SubmissionError {
	return &SubmissionError{
		Kind:       SubmitUnexpectedStatus,
		StatusCode: code,
		Message:    fmt.Sprintf("unexpected status code %d", code),
	}
}

// MalformedEnvelopeError reports an undecodable submission response.
func MalformedEnvelopeError(cause error) *SubmissionError {
	return &SubmissionError{Kind: SubmitMalformedEnvelope, Message: "malformed submission envelope", Cause: cause}
}

// MissingJobIDError reports an accepted response without a job id.
func MissingJobIDError() *SubmissionError {
	return &SubmissionError{Kind: SubmitMissingJobID, Message: "submission response has no job_id"}
}

// PollErrorKind enumerates why a poll did not yield a usable status.
type PollErrorKind string

const (
	PollTransport             PollErrorKind = "transport"
	PollMalformedEnvelope     PollErrorKind = "malformed_envelope"
	PollUnexpectedStatusValue PollErrorKind = "unexpected_status_value"
	PollMissingArtifactURL    PollErrorKind = "missing_artifact_url"
	PollRejected              PollErrorKind = "rejected"
)

// PollError is folded into a Failure outcome; only PollTransport is retried.
type PollError struct {
	Kind PollErrorKind
	// Value holds the offending status value or HTTP code, when there is one.
	Value   string
	Message string
	Cause   error
}

func (e *PollError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PollError) Unwrap() error { return e.Cause }

func (e *PollError) Is(target error) bool {
	t, ok := target.(*PollError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Transient reports whether the poll should be retried.
func (e *PollError) Transient() bool { return e.Kind == PollTransport }

// Class maps the error onto a user-facing failure class.
func (e *PollError) Class() FailureClass {
	switch e.Kind {
	case PollTransport:
		return ClassNetwork
	case PollRejected:
		return ClassRejected
	default:
		return ClassBadData
	}
}

var (
	ErrPollTransport         = &PollError{Kind: PollTransport, Message: "status request failed"}
	ErrPollMalformedEnvelope = &PollError{Kind: PollMalformedEnvelope, Message: "malformed status envelope"}
	ErrUnexpectedStatusValue = &PollError{Kind: PollUnexpectedStatusValue, Message: "unexpected job status"}
	ErrMissingArtifactURL    = &PollError{Kind: PollMissingArtifactURL, Message: "status response has no presigned_url"}
	ErrJobRejected           = &PollError{Kind: PollRejected, Message: "job rejected by backend"}
)

// PollTransportError wraps a network failure during a status query.
func PollTransportError(cause error) *PollError {
	return &PollError{Kind: PollTransport, Message: "status request failed", Cause: cause}
}

// PollMalformedError reports an undecodable status envelope at the given layer.
func PollMalformedError(layer string, cause error) *PollError {
	return &PollError{
		Kind:    PollMalformedEnvelope,
		Value:   layer,
		Message: fmt.Sprintf("malformed status envelope (%s)", layer),
		Cause:   cause,
	}
}

// UnexpectedStatusValueError reports a status value the client does not know.
func UnexpectedStatusValueError(value string) *PollError {
	return &PollError{
		Kind:    PollUnexpectedStatusValue,
		Value:   value,
		Message: fmt.Sprintf("unexpected job status %q", value),
	}
}

// MissingArtifactURLError reports a SUCCEEDED status without a usable URL.
func MissingArtifactURLError() *PollError {
	return &PollError{Kind: PollMissingArtifactURL, Message: "status response has no presigned_url"}
}

// RejectedError reports a job the backend refused or failed.
func RejectedError(value string) *PollError {
	return &PollError{
		Kind:    PollRejected,
		Value:   value,
		Message: fmt.Sprintf("job rejected by backend (%s)", value),
	}
}
