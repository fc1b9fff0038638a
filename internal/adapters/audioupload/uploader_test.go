package audioupload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytpdf/internal/core/domain"
)

func writeTempAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0644))
	return path
}

func TestUpload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "device-1", r.URL.Query().Get("deviceToken"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "RIFF....WAVE", string(data))
		assert.Equal(t, "recording.wav", header.Filename)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewUploader(srv.URL+"/prod/upload-audio", time.Second, nil)
	require.NoError(t, err)
	assert.NoError(t, u.Upload(context.Background(), writeTempAudio(t, "recording.wav"), "device-1"))
}

func TestUpload_MissingClientID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	u, err := NewUploader(srv.URL, time.Second, nil)
	require.NoError(t, err)

	err = u.Upload(context.Background(), writeTempAudio(t, "a.wav"), " ")
	assert.ErrorIs(t, err, domain.ErrMissingClientID)
	assert.Zero(t, calls.Load())
}

func TestUpload_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u, err := NewUploader(srv.URL, time.Second, nil)
	require.NoError(t, err)

	err = u.Upload(context.Background(), writeTempAudio(t, "a.m4a"), "device-1")
	assert.ErrorIs(t, err, domain.ErrUnexpectedStatus)
}

func TestUpload_MissingFile(t *testing.T) {
	u, err := NewUploader("http://127.0.0.1:1/upload", time.Second, nil)
	require.NoError(t, err)
	assert.Error(t, u.Upload(context.Background(), filepath.Join(t.TempDir(), "none.wav"), "device-1"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/wav", contentType("x.WAV"))
	assert.Equal(t, "audio/mp4", contentType("x.m4a"))
	assert.Equal(t, "application/octet-stream", contentType("x.ogg"))
}
