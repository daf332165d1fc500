package encoders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Quoting controls which CSV fields are enclosed in quotes.
type Quoting string

const (
	// QuoteMinimal quotes fields containing the delimiter, a quote or a line break.
	QuoteMinimal Quoting = "minimal"
	// QuoteAll quotes every field.
	QuoteAll Quoting = "all"
	// QuoteNonNumeric quotes every field that is not a number.
	QuoteNonNumeric Quoting = "nonnumeric"
	// QuoteNone never quotes and escapes special characters with a backslash.
	QuoteNone Quoting = "none"
)

const utf8BOM = "\ufeff"

// DefaultEncoding matches what spreadsheet software expects from CSV exports.
const DefaultEncoding = "utf-8-sig"

type CSVOptions struct {
	// Delimiter separates fields. Defaults to ",".
	Delimiter string
	Quoting   Quoting
	// LineTerminator is one of "lf", "cr", "crlf", "os" or a literal terminator.
	LineTerminator string
	// Encoding is a WHATWG charset name, or "utf-8-sig" for UTF-8 with a byte order mark.
	Encoding string
}

// ParseQuoting accepts the quoting names with or without the "QUOTE_" prefix.
func ParseQuoting(s string) (Quoting, error) {
	q := Quoting(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "quote_"))
	switch q {
	case "":
		return QuoteMinimal, nil
	case QuoteMinimal, QuoteAll, QuoteNonNumeric, QuoteNone:
		return q, nil
	default:
		return "", fmt.Errorf("unknown quoting %q", s)
	}
}

// ParseLineTerminator resolves a line terminator name.
func ParseLineTerminator(s string) string {
	switch strings.ToLower(s) {
	case "", "lf", "\n":
		return "\n"
	case "cr", "\r":
		return "\r"
	case "crlf", "\r\n":
		return "\r\n"
	case "os", "os_default":
		if runtime.GOOS == "windows" {
			return "\r\n"
		}
		return "\n"
	default:
		return s
	}
}

// CSVEncoder writes a table as delimited text.
type CSVEncoder struct {
	useLabels  bool
	formatTime func(time.Time) string
	delimiter  string
	quoting    Quoting
	terminator string
	encoding   string
	escaper    *strings.Replacer
}

func NewCSVEncoder(opts Options) (engine.Encoder, error) {
	formatTime, err := dateFormatter(opts.DateFormat)
	if err != nil {
		return nil, err
	}

	quoting, err := ParseQuoting(string(opts.CSV.Quoting))
	if err != nil {
		return nil, err
	}

	delimiter := opts.CSV.Delimiter
	if delimiter == "" {
		delimiter = ","
	}
	if delimiter == `"` || strings.ContainsAny(delimiter, "\r\n") {
		return nil, fmt.Errorf("invalid csv delimiter %q", delimiter)
	}

	encoding := strings.ToLower(opts.CSV.Encoding)
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if encoding != DefaultEncoding {
		if _, err := htmlindex.Get(encoding); err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", opts.CSV.Encoding, err)
		}
	}

	return &CSVEncoder{
		useLabels:  opts.UseLabels,
		formatTime: formatTime,
		delimiter:  delimiter,
		quoting:    quoting,
		terminator: ParseLineTerminator(opts.CSV.LineTerminator),
		encoding:   encoding,
		escaper:    strings.NewReplacer(`\`, `\\`, delimiter, `\`+delimiter, `"`, `\"`, "\r", `\r`, "\n", `\n`),
	}, nil
}

func (e *CSVEncoder) EncodeTable(ctx context.Context, table *engine.Table) (io.Reader, error) {
	var buf bytes.Buffer

	w, err := e.textWriter(&buf)
	if err != nil {
		return nil, err
	}

	if err := e.writeRecord(w, stringsToAny(table.Headers(e.useLabels))); err != nil {
		return nil, err
	}

	record := make([]any, len(table.Columns))
	for i, row := range table.Rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for j, c := range table.Columns {
			record[j] = row[c.ID]
		}
		if err := e.writeRecord(w, record); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode csv as %s: %w", e.encoding, err)
	}

	return &buf, nil
}

func (e *CSVEncoder) FileExtension() string {
	return "csv"
}

func (e *CSVEncoder) textWriter(buf *bytes.Buffer) (io.WriteCloser, error) {
	switch e.encoding {
	case DefaultEncoding:
		buf.WriteString(utf8BOM)
		return nopWriteCloser{buf}, nil
	case "utf-8", "utf8":
		return nopWriteCloser{buf}, nil
	}

	enc, err := htmlindex.Get(e.encoding)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", e.encoding, err)
	}
	return transform.NewWriter(buf, enc.NewEncoder()), nil
}

func (e *CSVEncoder) writeRecord(w io.Writer, values []any) error {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteString(e.delimiter)
		}
		sb.WriteString(e.field(v))
	}
	sb.WriteString(e.terminator)

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("failed to write csv record: %w", err)
	}
	return nil
}

func (e *CSVEncoder) field(v any) string {
	s := engine.FormatCell(v, e.formatTime)

	switch e.quoting {
	case QuoteAll:
		return quote(s)
	case QuoteNonNumeric:
		if isNumeric(v) {
			return s
		}
		return quote(s)
	case QuoteNone:
		return e.escaper.Replace(s)
	default:
		if s != "" && (strings.Contains(s, e.delimiter) || strings.ContainsAny(s, "\"\r\n")) {
			return quote(s)
		}
		return s
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
