package sinks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fsexport/fsexport/internal/engine"
)

// ArchiveSink wraps a sink and collects all writes into an archive.
// On Close, it finalizes the archive and writes a single file to the inner sink.
// An archive with no entries is not written. Write is safe for concurrent use.
type ArchiveSink struct {
	inner       engine.Sink
	archiver    engine.Archiver
	archiveName string

	mu      sync.Mutex
	entries int
}

func NewArchiveSink(inner engine.Sink, archiver engine.Archiver, archiveName string) *ArchiveSink {
	return &ArchiveSink{
		inner:       inner,
		archiver:    archiver,
		archiveName: archiveName,
	}
}

func (s *ArchiveSink) Name() string {
	return fmt.Sprintf("archive(%s)->%s", s.archiveName, s.inner.Name())
}

func (s *ArchiveSink) Kind() string {
	return "archive"
}

// Write adds a file to the archive.
// The data is read fully before the archive is locked, so a failed read
// leaves no partial entry behind.
func (s *ArchiveSink) Write(ctx context.Context, path string, data io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.archiver.AddFile(ctx, path, &buf); err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", path, err)
	}
	s.entries++
	return nil
}

// Entries returns the number of files written to the archive.
func (s *ArchiveSink) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Close finalizes the archive and writes it to the inner sink.
func (s *ArchiveSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reader, err := s.archiver.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	if s.entries > 0 {
		if err := s.inner.Write(ctx, s.archiveName, reader); err != nil {
			return fmt.Errorf("failed to write archive to sink: %w", err)
		}
	}

	if err := s.inner.Close(ctx); err != nil {
		return fmt.Errorf("failed to close inner sink: %w", err)
	}

	return nil
}
