package audioupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ytpdf/internal/core/domain"
	"ytpdf/internal/metrics"
)

const defaultFilename = "recording.wav"

// Uploader posts recorded audio to the backend upload endpoint.
type Uploader struct {
	uploadURL string
	client    *http.Client
	logger    *zerolog.Logger
}

// NewUploader creates a new Uploader.
func NewUploader(uploadURL string, timeout time.Duration, logger *zerolog.Logger) (*Uploader, error) {
	if uploadURL == "" {
		return nil, errors.New("upload url is required")
	}
	if _, err := url.Parse(uploadURL); err != nil {
		return nil, fmt.Errorf("upload url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Uploader{
		uploadURL: uploadURL,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}, nil
}

// Upload sends the file as multipart/form-data field "file", with the
// client id in the deviceToken query parameter. Only HTTP 200 is success.
func (u *Uploader) Upload(ctx context.Context, audioPath, clientID string) error {
	err := u.upload(ctx, audioPath, clientID)
	if err != nil {
		var serr *domain.SubmissionError
		if errors.As(err, &serr) {
			metrics.IncUpload(string(serr.Kind))
		}
		return err
	}
	metrics.IncUpload(metrics.ResultOK)
	return nil
}

func (u *Uploader) upload(ctx context.Context, audioPath, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return &domain.SubmissionError{Kind: domain.SubmitMissingClientID, Message: "client id is required"}
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	target, err := url.Parse(u.uploadURL)
	if err != nil {
		return domain.SubmitTransportError(err)
	}
	q := target.Query()
	q.Set("deviceToken", clientID)
	target.RawQuery = q.Encode()

	filename := filepath.Base(audioPath)
	if filename == "." || filename == string(filepath.Separator) {
		filename = defaultFilename
	}

	// Stream the body so large recordings are not buffered in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAudioPart(mw, file, filename))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), pr)
	if err != nil {
		pr.Close()
		return domain.SubmitTransportError(err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", requestID)

	log := u.logger.With().Str("request_id", requestID).Str("file", filename).Logger()
	log.Debug().Msg("uploading audio")

	resp, err := u.client.Do(req)
	if err != nil {
		pr.Close()
		log.Warn().Err(err).Msg("audio upload failed")
		return domain.SubmitTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("audio upload rejected")
		return domain.UnexpectedStatusError(resp.StatusCode)
	}
	log.Info().Msg("audio upload successful")
	return nil
}

func writeAudioPart(mw *multipart.Writer, src io.Reader, filename string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", contentType(filename))

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
