package sinks

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	SchemeFile   = "file"
	SchemeStdout = "stdout"
	SchemeS3     = "s3"
	SchemeGCS    = "gs"

	// StdoutPath is the location of standard output.
	StdoutPath = "-"
)

// Location is a parsed output destination. Dir is a local directory for file
// locations and an object prefix for bucket locations.
type Location struct {
	Scheme string
	Bucket string
	Dir    string
	Name   string
}

// ParseLocation parses "-" (stdout), s3://bucket/key, gs://bucket/key, or a
// local file path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Location{}, fmt.Errorf("output location is empty")
	case raw == StdoutPath:
		return Location{Scheme: SchemeStdout}, nil
	case strings.HasPrefix(raw, SchemeS3+"://"), strings.HasPrefix(raw, SchemeGCS+"://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("invalid output location %q: %w", raw, err)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
			return Location{}, fmt.Errorf("output location %q must name a bucket and an object", raw)
		}
		dir := path.Dir(key)
		if dir == "." {
			dir = ""
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Dir: dir, Name: path.Base(key)}, nil
	default:
		p := strings.TrimPrefix(raw, SchemeFile+"://")
		return Location{Scheme: SchemeFile, Dir: filepath.Dir(p), Name: filepath.Base(p)}, nil
	}
}

// ParseDirLocation parses a directory: a local path, s3://bucket/prefix or
// gs://bucket/prefix. Name is always empty.
func ParseDirLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || raw == "-":
		return Location{}, fmt.Errorf("directory location %q is not a directory", raw)
	case strings.HasPrefix(raw, SchemeS3+"://"), strings.HasPrefix(raw, SchemeGCS+"://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("invalid directory location %q: %w", raw, err)
		}
		if u.Host == "" {
			return Location{}, fmt.Errorf("directory location %q must name a bucket", raw)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Dir: strings.Trim(u.Path, "/")}, nil
	default:
		return Location{Scheme: SchemeFile, Dir: filepath.Clean(strings.TrimPrefix(raw, SchemeFile+"://"))}, nil
	}
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeStdout:
		return "-"
	case SchemeFile:
		return filepath.Join(l.Dir, l.Name)
	default:
		return strings.TrimSuffix(fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, path.Join(l.Dir, l.Name)), "/")
	}
}

// Ext returns the lower-cased extension of the location name, without the dot.
func (l Location) Ext() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(l.Name)), ".")
}
