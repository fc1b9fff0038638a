package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytpdf/internal/adapters/convertapi"
	"ytpdf/internal/adapters/downloader"
	"ytpdf/internal/adapters/localstorage"
	"ytpdf/internal/core/domain"
	"ytpdf/internal/core/ports"
)

// fakeBackend serves the convert, status and artifact endpoints.
type fakeBackend struct {
	*httptest.Server

	mu             sync.Mutex
	submitResponse string
	statuses       []string

	submits atomic.Int32
	polls   atomic.Int32
}

func newFakeBackend(t *testing.T, submitResponse string, statuses ...string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{submitResponse: submitResponse, statuses: statuses}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prod/convert", func(w http.ResponseWriter, r *http.Request) {
		b.submits.Add(1)
		_, _ = w.Write([]byte(b.submitResponse))
	})
	mux.HandleFunc("GET /prod/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(b.polls.Add(1))
		b.mu.Lock()
		defer b.mu.Unlock()
		idx := n - 1
		if idx >= len(b.statuses) {
			idx = len(b.statuses) - 1
		}
		_, _ = w.Write([]byte(b.statuses[idx]))
	})
	mux.HandleFunc("GET /cdn/x.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 test"))
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) succeeded() string {
	return `{"status":"SUCCEEDED","output":"{\"body\":\"{\\\"presigned_url\\\":\\\"` + b.URL + `/cdn/x.pdf\\\"}\"}"}`
}

func newTestOrchestrator(t *testing.T, b *fakeBackend, opts ...Option) (*Orchestrator, *localstorage.LocalStorage, *Poller) {
	t.Helper()
	client, err := convertapi.NewClient(convertapi.Options{
		SubmitURL: b.URL + "/prod/convert",
		StatusURL: b.URL + "/prod/status",
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)

	storage := localstorage.NewLocalStorage(t.TempDir())
	poller := NewPoller(client, nil)
	opts = append([]Option{WithPollConfig(fastPoll())}, opts...)
	o := NewOrchestrator(client, poller, downloader.NewHTTPDownloader(2*time.Second), storage, nil, opts...)
	return o, storage, poller
}

const acceptedJ1 = `{"statusCode":202,"body":"{\"job_id\":\"J1\"}"}`

func TestOrchestrator_RunJob_SucceedsAfterThreePolls(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`, `{"status":"RUNNING"}`)
	b.statuses = append(b.statuses, b.succeeded())
	o, storage, _ := newTestOrchestrator(t, b)

	result, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)

	assert.True(t, result.Success())
	assert.Equal(t, "J1", result.Handle.JobID)
	assert.Equal(t, b.URL+"/cdn/x.pdf", result.Outcome.ArtifactURL)
	assert.Equal(t, 3, result.Outcome.Polls)
	assert.EqualValues(t, 3, b.polls.Load())
	assert.NoError(t, result.DownloadErr)

	data, err := os.ReadFile(result.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 test", string(data))
	dir, err := storage.GetJobPath("J1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.pdf"), result.ArtifactPath)

	saved, err := storage.LoadOutcome(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, saved.Kind)
}

func TestOrchestrator_RunJob_SubmissionRejectedDoesNotPoll(t *testing.T) {
	b := newFakeBackend(t, `{"statusCode":500,"body":"{}"}`, `{"status":"RUNNING"}`)
	o, _, poller := newTestOrchestrator(t, b)

	_, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	var serr *domain.SubmissionError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, domain.SubmitUnexpectedStatus, serr.Kind)
	assert.Equal(t, 500, serr.StatusCode)

	poller.Wait()
	assert.Zero(t, b.polls.Load())
}

func TestOrchestrator_RunJob_EmptyURL(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	o, _, _ := newTestOrchestrator(t, b)

	_, err := o.RunJob(context.Background(), domain.ConversionRequest{ClientID: "device-1"})
	assert.ErrorIs(t, err, ErrEmptySourceURL)
	assert.Zero(t, b.submits.Load())
}

func TestOrchestrator_RunJob_FailureOutcome(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"FAILED"}`)
	rec := newOutcomeRecorder()
	o, _, _ := newTestOrchestrator(t, b, WithOutcomeHandler(rec))

	result, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, domain.OutcomeFailure, result.Outcome.Kind)
	assert.Equal(t, domain.ClassRejected, result.Outcome.Class)
	assert.Empty(t, result.ArtifactPath)
	assert.Len(t, rec.all(), 1)
}

func TestOrchestrator_RunJob_CancelStopsPolling(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	rec := newOutcomeRecorder()
	o, storage, poller := newTestOrchestrator(t, b, WithOutcomeHandler(rec))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.RunJob(ctx, domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	poller.Wait()
	polls := b.polls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, b.polls.Load(), "no polls after cancellation")
	assert.Empty(t, rec.all())

	_, err = storage.LoadOutcome(context.Background(), "J1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_Resume_UsesOriginalSubmissionTime(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	o, storage, _ := newTestOrchestrator(t, b, WithPollConfig(domain.PollConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  time.Minute,
	}))
	ctx := context.Background()

	handle := domain.JobHandle{JobID: "J7", SubmittedAt: time.Now().Add(-2 * time.Minute)}
	require.NoError(t, storage.InitJob(ctx, "J7"))
	require.NoError(t, storage.SaveSubmission(ctx, handle, domain.ConversionRequest{SourceURL: "https://youtu.be/abc"}))

	result, err := o.Resume(ctx, "J7")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTimeout, result.Outcome.Kind)
	assert.EqualValues(t, 1, b.polls.Load())
}

func TestOrchestrator_Resume_ReturnsRecordedOutcome(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	o, storage, _ := newTestOrchestrator(t, b)
	ctx := context.Background()

	require.NoError(t, storage.InitJob(ctx, "J8"))
	require.NoError(t, storage.SaveOutcome(ctx, domain.SuccessOutcome("J8", "https://cdn/old.pdf")))

	result, err := o.Resume(ctx, "J8")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/old.pdf", result.Outcome.ArtifactURL)
	assert.Zero(t, b.polls.Load())
}

func TestOrchestrator_Resume_UnknownJob(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	o, _, _ := newTestOrchestrator(t, b)

	_, err := o.Resume(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// memIndex is an in-memory ports.JobIndex.
type memIndex struct {
	mu       sync.Mutex
	pending  map[string]ports.PendingJob
	outcomes map[string]domain.JobOutcome
}

func newMemIndex() *memIndex {
	return &memIndex{pending: map[string]ports.PendingJob{}, outcomes: map[string]domain.JobOutcome{}}
}

func (m *memIndex) SavePending(ctx context.Context, handle domain.JobHandle, sourceURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[handle.JobID] = ports.PendingJob{Handle: handle, SourceURL: sourceURL}
	return nil
}

func (m *memIndex) Pending(ctx context.Context, jobID string) (ports.PendingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[jobID]
	if !ok {
		return ports.PendingJob{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memIndex) SaveOutcome(ctx context.Context, outcome domain.JobOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, outcome.JobID)
	m.outcomes[outcome.JobID] = outcome
	return nil
}

func (m *memIndex) Outcome(ctx context.Context, jobID string) (domain.JobOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outcomes[jobID]
	if !ok {
		return domain.JobOutcome{}, domain.ErrNotFound
	}
	return o, nil
}

func TestOrchestrator_RecordsInJobIndex(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	b.statuses = append(b.statuses, b.succeeded())
	idx := newMemIndex()
	o, _, _ := newTestOrchestrator(t, b, WithJobIndex(idx), WithoutDownload())

	result, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)
	assert.Empty(t, result.ArtifactPath)

	_, err = idx.Pending(context.Background(), "J1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err := o.Lookup(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
}

func TestOrchestrator_DownloadFailureKeepsOutcome(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"SUCCEEDED","output":"{\"body\":\"{\\\"presigned_url\\\":\\\"http://127.0.0.1:1/missing.pdf\\\"}\"}"}`)
	o, _, _ := newTestOrchestrator(t, b)

	result, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Error(t, result.DownloadErr)
	assert.Empty(t, result.ArtifactPath)
}

func TestOrchestrator_StoresRedactedClientID(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	b.statuses = append(b.statuses, b.succeeded())
	o, storage, _ := newTestOrchestrator(t, b, WithoutDownload())

	_, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-token-123"})
	require.NoError(t, err)

	_, req, err := storage.LoadSubmission(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/abc", req.SourceURL)
	assert.Equal(t, "devi...23", req.ClientID)

	dir, err := storage.GetJobPath("J1")
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, "submission.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "device-token-123")
}

func TestOrchestrator_UnsafeJobIDNeverReachesDisk(t *testing.T) {
	b := newFakeBackend(t, `{"statusCode":202,"body":"{\"job_id\":\"a/J1\"}"}`)
	b.statuses = []string{b.succeeded()}
	o, storage, _ := newTestOrchestrator(t, b)

	result, err := o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.ErrorIs(t, result.DownloadErr, domain.ErrInvalidJobID)

	_, statErr := os.Stat(filepath.Join(storage.BaseDir, "jobs"))
	assert.True(t, os.IsNotExist(statErr), "no job directory created")

	_, err = o.Resume(context.Background(), "a/J1")
	assert.ErrorIs(t, err, domain.ErrInvalidJobID)
}

// cancelOnWrite cancels a context when a log line containing match is written.
type cancelOnWrite struct {
	match  string
	cancel context.CancelFunc
}

func (w cancelOnWrite) Write(p []byte) (int, error) {
	if strings.Contains(string(p), w.match) {
		w.cancel()
	}
	return len(p), nil
}

func TestOrchestrator_KeepsOutcomeProducedAsContextIsCancelled(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"RUNNING"}`)
	b.statuses = []string{b.succeeded()}
	client, err := convertapi.NewClient(convertapi.Options{
		SubmitURL: b.URL + "/prod/convert",
		StatusURL: b.URL + "/prod/status",
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The poller logs "job finished" after claiming the outcome and before handing it over.
	pollLog := zerolog.New(cancelOnWrite{match: "job finished", cancel: cancel})
	poller := NewPoller(client, &pollLog)

	idx := newMemIndex()
	rec := newOutcomeRecorder()
	storage := localstorage.NewLocalStorage(t.TempDir())
	o := NewOrchestrator(client, poller, downloader.NewHTTPDownloader(time.Second), storage, nil,
		WithPollConfig(fastPoll()), WithJobIndex(idx), WithOutcomeHandler(rec))

	result, err := o.RunJob(ctx, domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)
	poller.Wait()

	assert.True(t, result.Success())
	assert.Len(t, rec.all(), 1)

	saved, err := storage.LoadOutcome(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, saved.Kind)
	_, err = idx.Outcome(context.Background(), "J1")
	assert.NoError(t, err)
}

func TestOrchestrator_History(t *testing.T) {
	b := newFakeBackend(t, acceptedJ1, `{"status":"FAILED"}`)
	o, _, _ := newTestOrchestrator(t, b)

	history, err := o.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = o.RunJob(context.Background(), domain.ConversionRequest{SourceURL: "https://youtu.be/abc", ClientID: "device-1"})
	require.NoError(t, err)

	history, err = o.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "J1", history[0].JobID)
	assert.Equal(t, domain.OutcomeFailure, history[0].Kind)
}

func TestExtractVideoID(t *testing.T) {
	assert.Equal(t, "abc", extractVideoID("https://youtu.be/abc"))
	assert.Equal(t, "dQw4w9WgXcQ", extractVideoID("https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=3"))
	assert.Empty(t, extractVideoID("not a url"))
}
