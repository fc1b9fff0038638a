package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"ytpdf/internal/core/domain"
)

// printer writes user-facing output. It is shared by concurrent jobs.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// OnJobOutcome prints one line as soon as a job finishes.
func (p *printer) OnJobOutcome(o domain.JobOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] %s: %s\n", o.JobID, o.Kind, o.UserMessage())
}

func (p *printer) summary(r *domain.JobResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, "\n=== Job Summary ===")
	fmt.Fprintf(p.out, "Job ID:       %s\n", r.Handle.JobID)
	if r.Request.SourceURL != "" {
		fmt.Fprintf(p.out, "Source:       %s\n", r.Request.SourceURL)
	}
	fmt.Fprintf(p.out, "Outcome:      %s\n", r.Outcome.Kind)
	fmt.Fprintf(p.out, "Polls:        %d\n", r.Outcome.Polls)
	switch r.Outcome.Kind {
	case domain.OutcomeSuccess:
		fmt.Fprintf(p.out, "PDF URL:      %s\n", r.Outcome.ArtifactURL)
		if r.ArtifactPath != "" {
			fmt.Fprintf(p.out, "PDF:          %s\n", r.ArtifactPath)
		}
		if r.DownloadErr != nil {
			fmt.Fprintf(p.out, "Download:     failed (%v)\n", r.DownloadErr)
		}
	default:
		fmt.Fprintf(p.out, "Message:      %s\n", r.Outcome.UserMessage())
	}
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(p.out, "Completed At: %s\n", r.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
	}
}

// submitFailed prints the user message for a submission that never produced a job.
func (p *printer) submitFailed(sourceURL string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] not submitted: %s\n", sourceURL, userMessage(err))
}

func (p *printer) outcome(o domain.JobOutcome) {
	p.summary(&domain.JobResult{Handle: domain.JobHandle{JobID: o.JobID}, Outcome: o, CompletedAt: o.FinishedAt})
}

// history prints one line per recorded job, like the app's list of generated PDFs.
func (p *printer) history(outcomes []domain.JobOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(outcomes) == 0 {
		fmt.Fprintln(p.out, "No converted jobs yet.")
		return
	}
	for _, o := range outcomes {
		detail := o.ArtifactURL
		if o.Kind != domain.OutcomeSuccess {
			detail = o.UserMessage()
		}
		fmt.Fprintf(p.out, "%s  %-8s %-7s %s\n", o.FinishedAt.Format("2006-01-02 15:04"), o.JobID, o.Kind, detail)
	}
}

type classifier interface {
	Class() domain.FailureClass
}

func userMessage(err error) string {
	var c classifier
	if errors.As(err, &c) {
		return c.Class().UserMessage()
	}
	return err.Error()
}
