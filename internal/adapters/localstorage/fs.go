package localstorage

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"ytpdf/internal/core/domain"
)

const (
	jobsDir        = "jobs"
	submissionFile = "submission.json"
	outcomeFile    = "outcome.json"
)

// LocalStorage implements ports.Storage for the local filesystem.
// Each job lives in <BaseDir>/jobs/<jobID>.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

type submissionRecord struct {
	Handle  domain.JobHandle         `json:"handle"`
	Request domain.ConversionRequest `json:"request"`
}

// InitJob creates the job directory.
func (s *LocalStorage) InitJob(ctx context.Context, jobID string) error {
	path, err := s.GetJobPath(jobID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create job directory %s: %w", path, err)
	}
	return nil
}

// SaveSubmission writes submission.json. The request is stored as given,
// so callers redact anything they do not want on disk.
func (s *LocalStorage) SaveSubmission(ctx context.Context, handle domain.JobHandle, req domain.ConversionRequest) error {
	return s.writeJSON(handle.JobID, submissionFile, submissionRecord{Handle: handle, Request: req})
}

// LoadSubmission reads submission.json back.
func (s *LocalStorage) LoadSubmission(ctx context.Context, jobID string) (domain.JobHandle, domain.ConversionRequest, error) {
	var rec submissionRecord
	if err := s.readJSON(jobID, submissionFile, &rec); err != nil {
		return domain.JobHandle{}, domain.ConversionRequest{}, err
	}
	return rec.Handle, rec.Request, nil
}

// SaveOutcome writes outcome.json.
func (s *LocalStorage) SaveOutcome(ctx context.Context, outcome domain.JobOutcome) error {
	return s.writeJSON(outcome.JobID, outcomeFile, outcome)
}

// LoadOutcome reads outcome.json back.
func (s *LocalStorage) LoadOutcome(ctx context.Context, jobID string) (domain.JobOutcome, error) {
	var out domain.JobOutcome
	if err := s.readJSON(jobID, outcomeFile, &out); err != nil {
		return domain.JobOutcome{}, err
	}
	return out, nil
}

// ListOutcomes reads every jobs/*/outcome.json, newest first.
// Jobs without an outcome yet are skipped.
func (s *LocalStorage) ListOutcomes(ctx context.Context) ([]domain.JobOutcome, error) {
	entries, err := os.ReadDir(filepath.Join(s.BaseDir, jobsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var outcomes []domain.JobOutcome
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		out, err := s.LoadOutcome(ctx, e.Name())
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidJobID) {
			continue
		}
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}

	slices.SortFunc(outcomes, func(a, b domain.JobOutcome) int {
		if c := b.FinishedAt.Compare(a.FinishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.JobID, b.JobID)
	})
	return outcomes, nil
}

// SaveArtifact saves the downloaded artifact.
func (s *LocalStorage) SaveArtifact(ctx context.Context, jobID string, reader io.Reader, filename string) error {
	dir, err := s.GetJobPath(jobID)
	if err != nil {
		return err
	}
	if filename == "" {
		filename = "artifact.pdf"
	}
	path := filepath.Join(dir, filepath.Base(filename))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write artifact file: %w", err)
	}
	return nil
}

// GetJobPath returns the path for a job directory. The job id comes from the
// backend and must be a single path element.
func (s *LocalStorage) GetJobPath(jobID string) (string, error) {
	if err := validateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(s.BaseDir, jobsDir, jobID), nil
}

func validateJobID(jobID string) error {
	switch {
	case jobID == "", jobID == ".", jobID == "..":
		return fmt.Errorf("%w: %q", domain.ErrInvalidJobID, jobID)
	case strings.ContainsAny(jobID, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", domain.ErrInvalidJobID, jobID)
	}
	return nil
}

func (s *LocalStorage) writeJSON(jobID, name string, v any) error {
	dir, err := s.GetJobPath(jobID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func (s *LocalStorage) readJSON(jobID, name string, v any) error {
	dir, err := s.GetJobPath(jobID)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}
