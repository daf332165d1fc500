package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fsexport/fsexport/internal/engine"
)

// StreamSink writes every file to one writer, usually stdout. Paths are
// ignored. Writes are serialized so concurrent steps do not interleave.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamSink(w io.Writer) engine.Sink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Name() string {
	return SchemeStdout
}

func (s *StreamSink) Kind() string {
	return SchemeStdout
}

func (s *StreamSink) Write(ctx context.Context, path string, data io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.Copy(s.w, data); err != nil {
		return fmt.Errorf("failed to write %s to stdout: %w", path, err)
	}
	return nil
}

// Close flushes the writer when it is a file. Pipes and terminals cannot be
// synced and the error is ignored.
func (s *StreamSink) Close(ctx context.Context) error {
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}
