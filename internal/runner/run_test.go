package runner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/cache"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testToken     = "secret"
	testServer    = "fs9"
	testDirectory = "acme"
	testForm      = "orders"
)

// formsiteServer answers API calls for one form and serves its uploaded
// files. Results have reference numbers 1..n, newest first.
type formsiteServer struct {
	mu      sync.Mutex
	results int
	queries []url.Values
}

func (s *formsiteServer) setResults(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = n
}

func (s *formsiteServer) resultQueries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

func (s *formsiteServer) start(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()

	api := "/api/v2/" + testDirectory + "/forms/" + testForm
	mux := http.NewServeMux()
	mux.HandleFunc(api+"/items", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"1","label":"Customer","position":0},{"id":"2","label":"Invoice","position":1}]}`))
	})
	mux.HandleFunc(api+"/results", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query())
		n := s.results
		s.mu.Unlock()

		afterID, _ := strconv.Atoi(r.URL.Query().Get("after_id"))
		results := []map[string]any{}
		for ref := n; ref > afterID; ref-- {
			results = append(results, map[string]any{
				"id":            ref,
				"result_status": "Complete",
				"date_update":   time.Date(2024, 6, ref, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
				"items": []map[string]any{
					{"id": "1", "value": fmt.Sprintf("customer %d", ref)},
					{"id": "2", "value": fmt.Sprintf("https://%s.formsite.com/%s/files/f-10-%d-invoice.pdf", testServer, testDirectory, ref)},
				},
			})
		}
		w.Header().Set("Pagination-Page-Last", "1")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	mux.HandleFunc("/"+testDirectory+"/files/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pdf " + filepath.Base(r.URL.Path)))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && r.Header.Get("Authorization") != "bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return srv, &http.Client{Transport: &hostRewriter{target: target}}
}

// hostRewriter sends every request to the test server, keeping the path.
type hostRewriter struct {
	target *url.URL
}

func (h *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = h.target.Scheme
	req.URL.Host = h.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testJob(srv *httptest.Server) v1.ExportJob {
	return v1.ExportJob{
		Kind:     v1.ExportJobKind,
		Metadata: v1.Metadata{Name: "orders-export"},
		Spec: v1.ExportJobSpec{
			Connection: v1.Connection{
				Token:     testToken,
				Server:    testServer,
				Directory: testDirectory,
				BaseURL:   srv.URL + "/api/v2/" + testDirectory,
			},
			Form: testForm,
		},
	}
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestRunner_Run(t *testing.T) {
	api := &formsiteServer{results: 3}
	srv, client := api.start(t)
	fs := afero.NewMemMapFs()

	job := testJob(srv)
	job.Spec.Parameters = &v1.Parameters{Timezone: "America/New_York", Sort: "desc"}
	job.Spec.Output = &v1.OutputSpec{Path: "/out/orders.csv", Encoding: "utf-8", LineTerminator: "lf"}
	job.Spec.LatestReference = &v1.LatestReferenceSpec{Path: "/out/latest_id.txt"}
	job.Spec.Links = &v1.LinksSpec{Path: "/out/links.txt"}
	job.Spec.Downloads = &v1.DownloadsSpec{Dir: "/out/files", StripPrefix: true, ReportPath: "/out/report.txt"}

	var fetched []int
	runner, err := New(t.Context(), zap.NewNop(), job, Options{
		Fs:            fs,
		HTTPClient:    client,
		FetchProgress: func(done, _ int) { fetched = append(fetched, done) },
	})
	require.NoError(t, err)

	summary, err := runner.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, testForm, summary.FormID)
	assert.Equal(t, 3, summary.Results)
	assert.Equal(t, 1, summary.Pages)
	assert.NotEmpty(t, fetched)

	csv := readFile(t, fs, "/out/orders.csv")
	lines := strings.Split(strings.TrimSuffix(csv, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Reference #,Status,Customer,Invoice,Date", lines[0])
	// 12:00 UTC is 08:00 in New York during summer time
	assert.True(t, strings.HasPrefix(lines[1], "3,Complete,customer 3,"), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], ",2024-06-03 08:00:00"), lines[1])

	assert.Equal(t, "3\n", readFile(t, fs, "/out/latest_id.txt"))

	links := strings.Fields(readFile(t, fs, "/out/links.txt"))
	assert.Len(t, links, 3)
	assert.Equal(t, "https://fs9.formsite.com/acme/files/f-10-1-invoice.pdf", links[0])

	// identical names after prefix stripping are numbered
	assert.Equal(t, "pdf f-10-1-invoice.pdf", readFile(t, fs, "/out/files/invoice_1.pdf"))
	assert.Equal(t, "pdf f-10-3-invoice.pdf", readFile(t, fs, "/out/files/invoice_3.pdf"))
	assert.Equal(t, 3, strings.Count(readFile(t, fs, "/out/report.txt"), " OK\n"))
}

func TestRunner_DownloadArchive(t *testing.T) {
	api := &formsiteServer{results: 2}
	srv, client := api.start(t)
	fs := afero.NewMemMapFs()

	job := testJob(srv)
	job.Spec.Downloads = &v1.DownloadsSpec{
		Dir:     "/out",
		Archive: &v1.ArchiveSpec{Name: "attachments", Compression: "gzip"},
	}

	runner, err := New(t.Context(), zap.NewNop(), job, Options{Fs: fs, HTTPClient: client})
	require.NoError(t, err)
	_, err = runner.Run(t.Context())
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/out/attachments.tar.gz")
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.ElementsMatch(t, []string{"f-10-1-invoice.pdf", "f-10-2-invoice.pdf"}, names)
}

func TestRunner_CacheFetchesIncrementally(t *testing.T) {
	api := &formsiteServer{results: 2}
	srv, client := api.start(t)
	fs := afero.NewMemMapFs()

	job := testJob(srv)
	job.Spec.Cache = &v1.CacheSpec{Path: filepath.Join(t.TempDir(), "cache.db")}
	job.Spec.Output = &v1.OutputSpec{Path: "/out/orders.json"}

	run := func() *Summary {
		runner, err := New(t.Context(), zap.NewNop(), job, Options{Fs: fs, HTTPClient: client})
		require.NoError(t, err)
		summary, err := runner.Run(t.Context())
		require.NoError(t, err)
		return summary
	}

	assert.Equal(t, 2, run().Results)

	api.setResults(4)
	assert.Equal(t, 4, run().Results)

	queries := api.resultQueries()
	require.Len(t, queries, 2)
	assert.Empty(t, queries[0].Get("after_id"))
	assert.Equal(t, "2", queries[1].Get("after_id"))

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, fs, "/out/orders.json")), &records))
	require.Len(t, records, 4)
	refs := lo.Map(records, func(r map[string]any, _ int) any { return r["Reference #"] })
	assert.Equal(t, []any{float64(4), float64(3), float64(2), float64(1)}, refs)
}

func TestRunner_CacheKeepsResultsTrimmedByLast(t *testing.T) {
	api := &formsiteServer{results: 3}
	srv, client := api.start(t)
	fs := afero.NewMemMapFs()
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	job := testJob(srv)
	job.Spec.Parameters = &v1.Parameters{Last: 1}
	job.Spec.Cache = &v1.CacheSpec{Path: cachePath}
	job.Spec.Output = &v1.OutputSpec{Path: "/out/orders.json"}
	job.Spec.LatestReference = &v1.LatestReferenceSpec{Path: "/out/latest.txt"}

	run := func() *Summary {
		runner, err := New(t.Context(), zap.NewNop(), job, Options{Fs: fs, HTTPClient: client})
		require.NoError(t, err)
		summary, err := runner.Run(t.Context())
		require.NoError(t, err)
		return summary
	}

	assert.Equal(t, 1, run().Results)

	api.setResults(5)
	assert.Equal(t, 1, run().Results)

	queries := api.resultQueries()
	require.Len(t, queries, 2)
	for _, q := range queries {
		assert.Equal(t, strconv.Itoa(formsite.MaxPageLimit), q.Get("limit"))
	}
	assert.Equal(t, "3", queries[1].Get("after_id"))

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, fs, "/out/orders.json")), &records))
	require.Len(t, records, 1)
	assert.Equal(t, float64(5), records[0]["Reference #"])
	assert.Equal(t, "5\n", readFile(t, fs, "/out/latest.txt"))

	store, err := cache.Open(cachePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entry, err := store.Load(t.Context(), testForm)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, entry.Table.ReferenceNumbers())
	assert.Equal(t, int64(5), entry.LatestReference)
}

func TestRunner_NoResults(t *testing.T) {
	api := &formsiteServer{results: 0}
	srv, client := api.start(t)
	fs := afero.NewMemMapFs()

	job := testJob(srv)
	job.Spec.Output = &v1.OutputSpec{Path: "/out/orders.csv"}

	runner, err := New(t.Context(), zap.NewNop(), job, Options{Fs: fs, HTTPClient: client})
	require.NoError(t, err)
	_, err = runner.Run(t.Context())
	require.ErrorIs(t, err, formsite.ErrNoResults)

	exists, err := afero.Exists(fs, "/out/orders.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("cached results are exported", func(t *testing.T) {
		api.setResults(2)
		job.Spec.Cache = &v1.CacheSpec{Path: filepath.Join(t.TempDir(), "cache.db")}

		for _, want := range []int{2, 2} {
			runner, err := New(t.Context(), zap.NewNop(), job, Options{Fs: fs, HTTPClient: client})
			require.NoError(t, err)
			summary, err := runner.Run(t.Context())
			require.NoError(t, err)
			assert.Equal(t, want, summary.Results)
		}
	})
}

func TestRunner_InvalidCredentials(t *testing.T) {
	api := &formsiteServer{results: 1}
	srv, client := api.start(t)

	job := testJob(srv)
	job.Spec.Connection.Token = "wrong"
	job.Spec.Output = &v1.OutputSpec{Path: "-"}

	var stdout bytes.Buffer
	runner, err := New(t.Context(), zap.NewNop(), job, Options{Fs: afero.NewMemMapFs(), Stdout: &stdout, HTTPClient: client})
	require.NoError(t, err)

	_, err = runner.Run(t.Context())
	require.ErrorIs(t, err, formsite.ErrInvalidAuthentication)
	assert.Empty(t, stdout.String())
}

func TestNew_Validation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	tests := []struct {
		name    string
		mutate  func(job *v1.ExportJob)
		wantErr error
		errText string
	}{
		{
			name:    "missing form id",
			mutate:  func(job *v1.ExportJob) { job.Spec.Form = "" },
			wantErr: formsite.ErrMissingFormID,
		},
		{
			name:    "invalid date",
			mutate:  func(job *v1.ExportJob) { job.Spec.Parameters = &v1.Parameters{AfterDate: "01/02/2024"} },
			wantErr: formsite.ErrInvalidDateFormat,
		},
		{
			name:    "invalid timezone",
			mutate:  func(job *v1.ExportJob) { job.Spec.Parameters = &v1.Parameters{Timezone: "Mars/Base"} },
			wantErr: formsite.ErrInvalidTimezone,
		},
		{
			name:    "missing token",
			mutate:  func(job *v1.ExportJob) { job.Spec.Connection.Token = "" },
			wantErr: formsite.ErrMissingCredential,
		},
		{
			name:    "unknown output format",
			mutate:  func(job *v1.ExportJob) { job.Spec.Output = &v1.OutputSpec{Path: "/out/a.csv", Format: "yaml"} },
			errText: "unknown output format",
		},
		{
			name:    "invalid link filter",
			mutate:  func(job *v1.ExportJob) { job.Spec.Links = &v1.LinksSpec{Path: "/out/l.txt", Filter: "("} },
			wantErr: formsite.ErrInvalidParameter,
		},
		{
			name:    "invalid download timeout",
			mutate:  func(job *v1.ExportJob) { job.Spec.Downloads = &v1.DownloadsSpec{Dir: "/out", Timeout: "later"} },
			wantErr: formsite.ErrInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob(srv)
			tt.mutate(&job)

			_, err := New(t.Context(), zap.NewNop(), job, Options{Fs: afero.NewMemMapFs()})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errText != "" {
				assert.ErrorContains(t, err, tt.errText)
			}
		})
	}
}

func TestParseExportJob(t *testing.T) {
	t.Run("valid job", func(t *testing.T) {
		job, err := ParseExportJob([]byte(`
kind: ExportJob
metadata:
  name: nightly
spec:
  connection:
    token: ${FORMSITE_TOKEN}
    server: fs22
    directory: abc
  form: form1
  parameters:
    after_date: ${START_DATE}
    timezone: "+02:00"
    sort: asc
  output:
    path: exports/nightly.xlsx
    use_labels: false
  downloads:
    dir: s3://bucket/files
    workers: 8
    archive:
      compression: zstd
`))
		require.NoError(t, err)

		assert.Equal(t, "nightly", job.Metadata.Name)
		assert.Equal(t, "${FORMSITE_TOKEN}", job.Spec.Connection.Token)
		assert.Equal(t, "+02:00", job.Spec.Parameters.Timezone)
		assert.Equal(t, "${START_DATE}", job.Spec.Parameters.AfterDate)
		assert.Equal(t, lo.ToPtr(false), job.Spec.Output.UseLabels)
		assert.Equal(t, 8, job.Spec.Downloads.Workers)
		assert.Equal(t, "zstd", job.Spec.Downloads.Archive.Compression)
	})

	tests := []struct {
		name    string
		data    string
		errText string
	}{
		{
			name:    "wrong kind",
			data:    "kind: CollectJob\nmetadata: {name: a}\nspec: {connection: {token: t, server: s, directory: d}, form: f}",
			errText: "failed to validate job",
		},
		{
			name:    "missing form",
			data:    "kind: ExportJob\nmetadata: {name: a}\nspec: {connection: {token: t, server: s, directory: d}}",
			errText: "Form",
		},
		{
			name:    "invalid compression",
			data:    "kind: ExportJob\nmetadata: {name: a}\nspec: {connection: {token: t, server: s, directory: d}, form: f, downloads: {dir: x, archive: {compression: lz4}}}",
			errText: "Compression",
		},
		{
			name:    "not yaml",
			data:    "kind: [",
			errText: "failed to unmarshal job data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExportJob([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.errText)
		})
	}
}

func TestValidateExportJob(t *testing.T) {
	valid := func() v1.ExportJob {
		return v1.ExportJob{
			Kind:     v1.ExportJobKind,
			Metadata: v1.Metadata{Name: "a"},
			Spec: v1.ExportJobSpec{
				Connection: v1.Connection{Token: "t", Server: "s", Directory: "d"},
				Form:       "f",
			},
		}
	}

	require.NoError(t, ValidateExportJob(valid()))

	job := valid()
	job.Spec.Parameters = &v1.Parameters{AfterDate: "${START_DATE}"}
	err := ValidateExportJob(job)
	require.ErrorIs(t, err, formsite.ErrInvalidDateFormat)
	assert.ErrorContains(t, err, "failed to validate job parameters")

	job = valid()
	job.Spec.Parameters = &v1.Parameters{Timezone: "Nowhere/Land"}
	require.ErrorIs(t, ValidateExportJob(job), formsite.ErrInvalidTimezone)

	job = valid()
	job.Kind = "CollectJob"
	require.ErrorContains(t, ValidateExportJob(job), "failed to validate job")
}
