package convertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"ytpdf/internal/core/domain"
)

// Backend status values.
const (
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusAborted   = "ABORTED"
	statusTimedOut  = "TIMED_OUT"
)

// submitPayload is the JSON body of the conversion request.
type submitPayload struct {
	YouTubeURL  string `json:"youtube_url"`
	DeviceToken string `json:"deviceToken"`
}

// submitEnvelope wraps the accepted job: {"statusCode":202,"body":"{\"job_id\":\"...\"}"}.
type submitEnvelope struct {
	StatusCode *int    `json:"statusCode"`
	Body       *string `json:"body"`
}

type submitBody struct {
	JobID string `json:"job_id"`
}

// statusEnvelope is the canonical status response: {"status":"...","output":"<json>"}.
// A statusCode field may be present and is ignored.
type statusEnvelope struct {
	Status *string `json:"status"`
	Output *string `json:"output"`
}

// outputEnvelope is the decoded output string: {"body":"<json>"}.
type outputEnvelope struct {
	Body *string `json:"body"`
}

type artifactBody struct {
	PresignedURL string `json:"presigned_url"`
}

var (
	errMissingStatusCode = errors.New("missing statusCode")
	errMissingBody       = errors.New("missing body")
	errMissingStatus     = errors.New("missing status")
)

// decodeEmbedded performs the second decode stage of a JSON string that itself holds JSON.
func decodeEmbedded(encoded string, v any) error {
	return json.Unmarshal([]byte(encoded), v)
}

// decodeSubmitEnvelope extracts the job id from a submission response.
func decodeSubmitEnvelope(raw []byte) (string, error) {
	var env submitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", domain.MalformedEnvelopeError(err)
	}
	if env.StatusCode == nil {
		return "", domain.MalformedEnvelopeError(errMissingStatusCode)
	}
	if *env.StatusCode != http.StatusAccepted {
		return "", domain.UnexpectedStatusError(*env.StatusCode)
	}
	if env.Body == nil {
		return "", domain.MalformedEnvelopeError(errMissingBody)
	}

	var body submitBody
	if err := decodeEmbedded(*env.Body, &body); err != nil {
		return "", domain.MalformedEnvelopeError(err)
	}
	if body.JobID == "" {
		return "", domain.MissingJobIDError()
	}
	return body.JobID, nil
}

// decodeStatusEnvelope interprets one status response. It never returns a transient error:
// anything it cannot understand is a terminal status.
func decodeStatusEnvelope(raw []byte) domain.JobStatus {
	var env statusEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Malformed(domain.PollMalformedError("envelope", err))
	}
	if env.Status == nil {
		return domain.Malformed(domain.PollMalformedError("envelope", errMissingStatus))
	}

	switch status := *env.Status; status {
	case statusRunning:
		return domain.Running()
	case statusSucceeded:
		return decodeArtifact(env.Output)
	case statusFailed, statusAborted, statusTimedOut:
		return domain.Failed(domain.RejectedError(status))
	default:
		return domain.Failed(domain.UnexpectedStatusValueError(status))
	}
}

// decodeArtifact unwraps output -> body -> presigned_url.
func decodeArtifact(output *string) domain.JobStatus {
	if output == nil {
		return domain.Failed(domain.MissingArtifactURLError())
	}

	var out outputEnvelope
	if err := decodeEmbedded(*output, &out); err != nil {
		return domain.Malformed(domain.PollMalformedError("output", err))
	}
	if out.Body == nil {
		return domain.Failed(domain.MissingArtifactURLError())
	}

	var body artifactBody
	if err := decodeEmbedded(*out.Body, &body); err != nil {
		return domain.Malformed(domain.PollMalformedError("output.body", err))
	}
	if body.PresignedURL == "" {
		return domain.Failed(domain.MissingArtifactURLError())
	}
	return domain.Succeeded(body.PresignedURL)
}
