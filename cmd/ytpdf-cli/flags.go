package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"ytpdf/internal/config"
)

// urlList collects repeated -url flags.
type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("empty url")
	}
	*u = append(*u, v)
	return nil
}

type options struct {
	urls       []string
	audio      string
	resume     string
	lookup     string
	list       bool
	noDownload bool
	parallel   int
}

// parseFlags applies command-line overrides on top of cfg.
// Positional arguments are treated as additional URLs.
func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("ytpdf-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var urls urlList
	opts := &options{}
	fs.Var(&urls, "url", "YouTube video URL to convert (repeatable)")
	fs.StringVar(&cfg.API.ClientID, "client-id", cfg.API.ClientID, "client/device token sent with each request")
	fs.StringVar(&cfg.Storage.DataDir, "data-dir", cfg.Storage.DataDir, "base directory for job records and PDFs")
	fs.DurationVar(&cfg.Poll.Interval, "interval", cfg.Poll.Interval, "status poll interval")
	fs.DurationVar(&cfg.Poll.Timeout, "timeout", cfg.Poll.Timeout, "give up on a job after this long")
	fs.StringVar(&opts.audio, "audio", "", "upload an audio file (.wav or .m4a) instead of a URL")
	fs.StringVar(&opts.resume, "resume", "", "resume polling a previously submitted job id")
	fs.StringVar(&opts.lookup, "lookup", "", "print the recorded outcome of a job id")
	fs.BoolVar(&opts.list, "list", false, "list previously converted jobs, newest first")
	fs.BoolVar(&opts.noDownload, "no-download", false, "do not download the PDF on success")
	fs.IntVar(&opts.parallel, "parallel", 4, "maximum number of jobs in flight")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: ytpdf-cli [flags] [-url <video-url>]... [video-url...]")
		fmt.Fprintln(stderr, "\nExamples:")
		fmt.Fprintln(stderr, "  ytpdf-cli -client-id dev-123 https://www.youtube.com/watch?v=dQw4w9WgXcQ")
		fmt.Fprintln(stderr, "  ytpdf-cli -resume 6f1c2a")
		fmt.Fprintln(stderr, "  ytpdf-cli -audio lecture.m4a")
		fmt.Fprintln(stderr, "  ytpdf-cli -list")
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for _, arg := range fs.Args() {
		if err := urls.Set(arg); err != nil {
			return nil, err
		}
	}
	opts.urls = urls
	cfg.Sanitize()

	modes := 0
	for _, set := range []bool{len(opts.urls) > 0, opts.audio != "", opts.resume != "", opts.lookup != "", opts.list} {
		if set {
			modes++
		}
	}
	switch {
	case modes == 0:
		fs.Usage()
		return nil, errors.New("nothing to do: pass a url, -audio, -resume, -lookup or -list")
	case modes > 1:
		return nil, errors.New("urls, -audio, -resume, -lookup and -list are mutually exclusive")
	}
	if opts.parallel < 1 {
		opts.parallel = 1
	}
	return opts, nil
}

