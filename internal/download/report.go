package download

import (
	"bytes"
	"fmt"
	"io"
)

// Status is the outcome of one download.
type Status struct {
	URL      string
	Name     string
	Attempts int
	Err      error
}

func (s Status) OK() bool {
	return s.Err == nil
}

// String renders the report line of the download: "<url> OK" or
// "<url> <error>".
func (s Status) String() string {
	if s.OK() {
		return s.URL + " OK"
	}
	return fmt.Sprintf("%s %v", s.URL, s.Err)
}

// Report collects the statuses of a download run.
type Report struct {
	Statuses []Status
}

func (r *Report) Succeeded() int {
	n := 0
	for _, s := range r.Statuses {
		if s.OK() {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int {
	return len(r.Statuses) - r.Succeeded()
}

func (r *Report) Failures() []Status {
	var failures []Status
	for _, s := range r.Statuses {
		if !s.OK() {
			failures = append(failures, s)
		}
	}
	return failures
}

// WriteTo writes one status line per download.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, s := range r.Statuses {
		n, err := fmt.Fprintln(w, s.String())
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Reader returns the report as text, ready for a sink.
func (r *Report) Reader() io.Reader {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return &buf
}
