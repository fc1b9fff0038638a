package convertapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ytpdf/internal/core/domain"
	"ytpdf/internal/metrics"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client implements ports.Submitter and ports.StatusFetcher against the conversion REST API.
type Client struct {
	submitURL string
	statusURL string
	client    *http.Client
	logger    *zerolog.Logger
	now       func() time.Time
}

// Options configures a Client.
type Options struct {
	SubmitURL string
	StatusURL string
	// Timeout bounds each HTTP request. Ignored when HTTPClient is set.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// NewClient creates a new Client.
func NewClient(opts Options) (*Client, error) {
	if opts.SubmitURL == "" || opts.StatusURL == "" {
		return nil, errors.New("submit and status URLs are required")
	}
	if _, err := url.Parse(opts.SubmitURL); err != nil {
		return nil, fmt.Errorf("submit url: %w", err)
	}
	if _, err := url.Parse(opts.StatusURL); err != nil {
		return nil, fmt.Errorf("status url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Client{
		submitURL: opts.SubmitURL,
		statusURL: strings.TrimRight(opts.StatusURL, "/"),
		client:    httpClient,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Submit sends one conversion request and returns the accepted job handle.
func (c *Client) Submit(ctx context.Context, req domain.ConversionRequest) (domain.JobHandle, error) {
	handle, err := c.submit(ctx, req)
	if err != nil {
		var serr *domain.SubmissionError
		if errors.As(err, &serr) {
			metrics.IncSubmission(string(serr.Kind))
		}
		return domain.JobHandle{}, err
	}
	metrics.IncSubmission(metrics.ResultOK)
	return handle, nil
}

func (c *Client) submit(ctx context.Context, req domain.ConversionRequest) (domain.JobHandle, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return domain.JobHandle{}, &domain.SubmissionError{
			Kind:    domain.SubmitMissingClientID,
			Message: "client id is required",
		}
	}

	// Keep '&' in query strings readable for the backend.
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(submitPayload{YouTubeURL: req.SourceURL, DeviceToken: req.ClientID}); err != nil {
		return domain.JobHandle{}, domain.SubmitTransportError(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, &body)
	if err != nil {
		return domain.JobHandle{}, domain.SubmitTransportError(err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	log := c.logger.With().Str("request_id", requestID).Logger()
	log.Debug().Str("url", req.SourceURL).Msg("submitting conversion")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Warn().Err(err).Msg("submission request failed")
		return domain.JobHandle{}, domain.SubmitTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.JobHandle{}, domain.SubmitTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("submission rejected")
		return domain.JobHandle{}, domain.UnexpectedStatusError(resp.StatusCode)
	}

	jobID, err := decodeSubmitEnvelope(raw)
	if err != nil {
		log.Warn().Err(err).Str("body", string(raw)).Msg("submission response not accepted")
		return domain.JobHandle{}, err
	}

	log.Info().Str("job_id", jobID).Msg("conversion accepted")
	return domain.JobHandle{JobID: jobID, SubmittedAt: c.now()}, nil
}

// FetchStatus issues GET {statusURL}/{jobID} and interprets the envelope.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	statusURL := c.statusURL + "/" + url.PathEscape(jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return domain.Malformed(domain.PollMalformedError("request", err)), nil
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObservePollLatency(time.Since(start))
	if err != nil {
		return domain.JobStatus{}, domain.PollTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.JobStatus{}, domain.PollTransportError(err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.JobStatus{}, domain.PollTransportError(fmt.Errorf("status endpoint returned %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.Failed(domain.RejectedError(strconv.Itoa(resp.StatusCode))), nil
	}

	status := decodeStatusEnvelope(raw)
	if status.State == domain.StateMalformed {
		c.logger.Debug().Str("job_id", jobID).Str("body", string(raw)).Msg("undecodable status response")
	}
	return status, nil
}
