package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultMaxBytes caps the size of a downloaded artifact.
const DefaultMaxBytes int64 = 512 << 20

var (
	// ErrArtifactExpired is returned when storage refuses the presigned URL,
	// which S3 does with 403 once the link has expired.
	ErrArtifactExpired = errors.New("artifact link expired or forbidden")
	// ErrArtifactTooLarge is returned when the artifact exceeds the size cap.
	ErrArtifactTooLarge = errors.New("artifact exceeds size limit")
)

// HTTPDownloader implements ports.Downloader for presigned artifact URLs.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPDownloader creates a new HTTPDownloader. A non-positive timeout means 30 minutes.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPDownloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxBytes,
	}
}

// WithMaxBytes sets the size cap. Non-positive values keep the current cap.
func (d *HTTPDownloader) WithMaxBytes(n int64) *HTTPDownloader {
	if n > 0 {
		d.maxBytes = n
	}
	return d
}

// Download opens the artifact. The returned body fails with ErrArtifactTooLarge
// once more than the size cap has been read.
func (d *HTTPDownloader) Download(ctx context.Context, artifactURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf, */*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrArtifactExpired
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch artifact: unexpected status code %d", resp.StatusCode)
	case resp.ContentLength > d.maxBytes:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, resp.ContentLength)
	}
	return &cappedBody{body: resp.Body, left: d.maxBytes}, nil
}

// cappedBody guards bodies with unknown length.
type cappedBody struct {
	body io.ReadCloser
	left int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left <= 0 {
		var one [1]byte
		n, err := b.body.Read(one[:])
		if n > 0 {
			return 0, ErrArtifactTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err := b.body.Read(p)
	b.left -= int64(n)
	return n, err
}

func (b *cappedBody) Close() error { return b.body.Close() }

// ArtifactFilename derives a local file name from the artifact URL,
// ignoring any presigned query string.
func ArtifactFilename(artifactURL string) string {
	u, err := url.Parse(artifactURL)
	if err != nil {
		return "artifact.pdf"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "artifact.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
