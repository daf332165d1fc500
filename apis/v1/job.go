package v1

// ExportJobKind is the only kind accepted in job files.
const ExportJobKind = "ExportJob"

// ExportJob describes one export of a Formsite form and everything written
// from it.
type ExportJob struct {
	Kind     string        `yaml:"kind" json:"kind" validate:"required,eq=ExportJob"`
	Metadata Metadata      `yaml:"metadata" json:"metadata" validate:"required"`
	Spec     ExportJobSpec `yaml:"spec" json:"spec" validate:"required"`
}

type Metadata struct {
	Name   string            `yaml:"name" json:"name" validate:"required"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty" template:""`
}

type ExportJobSpec struct {
	Connection Connection `yaml:"connection" json:"connection" validate:"required"`
	// Form is the id of the form to export.
	Form       string      `yaml:"form" json:"form" validate:"required" template:""`
	Parameters *Parameters `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Fetch      *FetchSpec  `yaml:"fetch,omitempty" json:"fetch,omitempty"`

	Output          *OutputSpec          `yaml:"output,omitempty" json:"output,omitempty"`
	Links           *LinksSpec           `yaml:"links,omitempty" json:"links,omitempty"`
	Downloads       *DownloadsSpec       `yaml:"downloads,omitempty" json:"downloads,omitempty"`
	LatestReference *LatestReferenceSpec `yaml:"latest_reference,omitempty" json:"latest_reference,omitempty"`
	Cache           *CacheSpec           `yaml:"cache,omitempty" json:"cache,omitempty"`
	Storage         *StorageSpec         `yaml:"storage,omitempty" json:"storage,omitempty"`
}

// Connection locates the Formsite account.
type Connection struct {
	// Token is the API bearer token.
	Token     string `yaml:"token" json:"token" validate:"required" template:""`
	Server    string `yaml:"server" json:"server" validate:"required" template:""`
	Directory string `yaml:"directory" json:"directory" validate:"required" template:""`
	// BaseURL overrides "https://{server}.formsite.com/api/v2/{directory}".
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url" template:""`
}

// Parameters filter and order the exported results.
type Parameters struct {
	// Last keeps only the first N results in sort order.
	Last      int   `yaml:"last,omitempty" json:"last,omitempty" validate:"gte=0"`
	AfterRef  int64 `yaml:"after_ref,omitempty" json:"after_ref,omitempty" validate:"gte=0"`
	BeforeRef int64 `yaml:"before_ref,omitempty" json:"before_ref,omitempty" validate:"gte=0"`
	// AfterDate and BeforeDate accept "2006-01-02", "2006-01-02 15:04:05" or
	// "2006-01-02T15:04:05Z", read in Timezone.
	AfterDate  string `yaml:"after_date,omitempty" json:"after_date,omitempty" template:""`
	BeforeDate string `yaml:"before_date,omitempty" json:"before_date,omitempty" template:""`
	// Timezone is an IANA name, "local" or an offset like "+02:00". Default: "UTC"
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	// ResultsView selects the exported columns. Default: "11"
	ResultsView   int `yaml:"results_view,omitempty" json:"results_view,omitempty" validate:"gte=0"`
	ResultsLabels int `yaml:"results_labels,omitempty" json:"results_labels,omitempty" validate:"gte=0"`
	// Sort is the direction of the reference numbers. Default: "desc"
	Sort string `yaml:"sort,omitempty" json:"sort,omitempty" validate:"omitempty,oneof=asc desc"`
}

// FetchSpec tunes the API requests.
type FetchSpec struct {
	// PageConcurrency is the number of results pages fetched at once. Default: "4"
	PageConcurrency int `yaml:"page_concurrency,omitempty" json:"page_concurrency,omitempty" validate:"gte=0"`
	// RateLimitDelay is waited after a 429 answer. Default: "60s"
	RateLimitDelay string `yaml:"rate_limit_delay,omitempty" json:"rate_limit_delay,omitempty"`
	// Timeout bounds each API request. Default: "60s"
	Timeout    string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// MaxRetries of each API request. Default: "4"
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"gte=0"`
}

// OutputSpec configures the results table file.
type OutputSpec struct {
	// Path is a local path, "-" for stdout, s3://bucket/key or gs://bucket/key.
	Path string `yaml:"path" json:"path" template:""`
	// Format overrides the format implied by the path extension.
	Format string `yaml:"format,omitempty" json:"format,omitempty" validate:"omitempty,oneof=csv json xlsx excel parquet feather pkl pickle md markdown"`
	// UseLabels writes item labels as column headers. Default: "true"
	UseLabels *bool `yaml:"use_labels,omitempty" json:"use_labels,omitempty"`
	// DateFormat is a strftime pattern. Default: "%Y-%m-%d %H:%M:%S"
	DateFormat string `yaml:"date_format,omitempty" json:"date_format,omitempty"`
	// Encoding of CSV output. Default: "utf-8-sig"
	Encoding       string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	Delimiter      string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Quoting        string `yaml:"quoting,omitempty" json:"quoting,omitempty" validate:"omitempty,oneof=minimal all nonnumeric none QUOTE_MINIMAL QUOTE_ALL QUOTE_NONNUMERIC QUOTE_NONE"`
	LineTerminator string `yaml:"line_terminator,omitempty" json:"line_terminator,omitempty"`
	// Indent of JSON output. Empty = compact.
	Indent string `yaml:"indent,omitempty" json:"indent,omitempty"`
}

// LinksSpec writes the list of uploaded file links.
type LinksSpec struct {
	Path string `yaml:"path" json:"path" template:""`
	// Filter is a regular expression matched at the start of each link.
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// DownloadsSpec downloads the uploaded files.
type DownloadsSpec struct {
	// Dir is a local directory, s3://bucket/prefix or gs://bucket/prefix.
	Dir    string `yaml:"dir" json:"dir" template:""`
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
	// StripPrefix removes the "f-123-456-" marker from file names.
	StripPrefix bool `yaml:"strip_prefix,omitempty" json:"strip_prefix,omitempty"`
	// FilenameSubstitution is a regular expression removed from file names.
	FilenameSubstitution string `yaml:"filename_substitution,omitempty" json:"filename_substitution,omitempty"`
	// Overwrite downloads files already present in Dir. Default: "true"
	Overwrite *bool `yaml:"overwrite,omitempty" json:"overwrite,omitempty"`
	// Workers is the number of concurrent downloads. Default: "5"
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty" validate:"gte=0"`
	// Timeout bounds each download attempt. Default: "80s"
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// MaxAttempts per file. Default: "3"
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" validate:"gte=0"`
	// ReportPath receives one "url OK" or "url error" line per file.
	ReportPath string       `yaml:"report_path,omitempty" json:"report_path,omitempty" template:""`
	Archive    *ArchiveSpec `yaml:"archive,omitempty" json:"archive,omitempty"`
}

// ArchiveSpec bundles the downloaded files into a single tarball written to
// the downloads location.
type ArchiveSpec struct {
	// Name of the archive without extension. Defaults to "$JOB_NAME"
	Name string `yaml:"name,omitempty" json:"name,omitempty" template:""`
	// Compression algorithm. Default: "gzip"
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty" validate:"omitempty,oneof=gzip zstd none"`
}

// LatestReferenceSpec writes the highest exported reference number.
type LatestReferenceSpec struct {
	Path string `yaml:"path" json:"path" validate:"required" template:""`
}

// CacheSpec keeps every exported result in a local SQLite database and
// fetches only newer results on the next run.
type CacheSpec struct {
	Path string `yaml:"path" json:"path" validate:"required" template:""`
}

// StorageSpec configures the cloud locations used by output paths.
type StorageSpec struct {
	S3  *S3Spec  `yaml:"s3,omitempty" json:"s3,omitempty"`
	GCS *GCSSpec `yaml:"gcs,omitempty" json:"gcs,omitempty"`
}

type S3Spec struct {
	Region         string         `yaml:"region,omitempty" json:"region,omitempty" template:""`
	Endpoint       string         `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url" template:""`
	ForcePathStyle bool           `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty"`
	Credentials    *S3Credentials `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

type S3Credentials struct {
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" validate:"required" template:""`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" validate:"required" template:""`
}

type GCSSpec struct {
	// CredentialsFile is a service account JSON key. Defaults to the
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty" template:""`
}
