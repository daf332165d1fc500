package engine

import (
	"context"
	"io"
)

// ISO8601Basic formats run dates in default output names. It has no colons
// so it is safe in file names and object keys.
const ISO8601Basic = "20060102T150405Z"

type Named interface {
	Name() string
	Kind() string
}

type Closer interface {
	Close(context.Context) error
}

// Collector is a remote source of results. It is started before the fetch
// and closed when the run ends.
type Collector interface {
	Named
	Closer
	Start(context.Context) error
}

// Encoder renders a table in one file format.
type Encoder interface {
	EncodeTable(ctx context.Context, table *Table) (io.Reader, error)
	// FileExtension has no leading dot, e.g. "csv".
	FileExtension() string
}

// Sink stores output files. Paths are relative to the sink root: a
// directory, a bucket prefix, an archive or stdout.
type Sink interface {
	Named
	Closer
	Write(ctx context.Context, path string, data io.Reader) error
}

// Archiver bundles files into a single archive.
type Archiver interface {
	AddFile(ctx context.Context, filename string, data io.Reader) error
	// Close finishes the archive and returns its bytes.
	Close() (io.Reader, error)
	// Extension includes the leading dot, e.g. ".tar.gz".
	Extension() string
}
