package formsite

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testToken     = "secret"
	testServer    = "fs1"
	testDirectory = "abc123"
	testForm      = "form1"
)

// fakeAPI serves a form whose results have reference numbers 1..n, newest
// first, paged like the real results endpoint.
type fakeAPI struct {
	t       *testing.T
	results []map[string]any
	items   []Item

	mu       sync.Mutex
	requests map[string]int
	queries  []map[string]string
	// failures answers the next requests of a path with a status each.
	failures map[string][]int

	// pageFailures answers every request of a results page with a status.
	pageFailures map[int]int
}

func newFakeAPI(t *testing.T, n int) *fakeAPI {
	api := &fakeAPI{
		t:            t,
		requests:     make(map[string]int),
		failures:     make(map[string][]int),
		pageFailures: make(map[int]int),
		items: []Item{
			{ID: "1", Label: "Name", Position: 0},
			{ID: "2", Label: "Attachment", Position: 1},
		},
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for ref := n; ref >= 1; ref-- {
		api.results = append(api.results, map[string]any{
			"id":            ref,
			"result_status": "Complete",
			"date_update":   base.Add(time.Duration(ref) * time.Hour).Format(time.RFC3339),
			"user_ip":       "10.0.0.1",
			"items": []map[string]any{
				{"id": "1", "value": fmt.Sprintf("user %d", ref)},
				{"id": "2", "value": fmt.Sprintf("https://%s.formsite.com/%s/files/f-1-2-%d_doc.pdf", testServer, testDirectory, ref)},
			},
		})
	}
	return api
}

func (f *fakeAPI) failNext(path string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = append(f.failures[path], statuses...)
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *fakeAPI) start() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/"+testDirectory+"/forms/"+testForm+"/results", f.handleResults)
	mux.HandleFunc("/api/v2/"+testDirectory+"/forms/"+testForm+"/items", f.handleItems)
	mux.HandleFunc("/api/v2/"+testDirectory+"/forms", f.handleForms)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.mu.Lock()
		f.requests[r.URL.Path]++
		query := map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		f.queries = append(f.queries, query)
		var status int
		if pending := f.failures[r.URL.Path]; len(pending) > 0 {
			status, f.failures[r.URL.Path] = pending[0], pending[1:]
		}
		f.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	f.t.Cleanup(srv.Close)
	return srv
}

func (f *fakeAPI) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	afterID, _ := strconv.Atoi(q.Get("after_id"))
	beforeID, _ := strconv.Atoi(q.Get("before_id"))

	if status, ok := f.pageFailures[page]; ok {
		http.Error(w, http.StatusText(status), status)
		return
	}

	var filtered []map[string]any
	for _, res := range f.results {
		ref := res["id"].(int)
		if afterID > 0 && ref <= afterID {
			continue
		}
		if beforeID > 0 && ref >= beforeID {
			continue
		}
		filtered = append(filtered, res)
	}
	if q.Get("sort_direction") == "asc" {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	last := max(1, (len(filtered)+limit-1)/limit)
	start := min((page-1)*limit, len(filtered))
	end := min(start+limit, len(filtered))

	w.Header().Set("Pagination-Page-Last", strconv.Itoa(last))
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(map[string]any{"results": filtered[start:end]}))
}

func (f *fakeAPI) handleItems(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(map[string]any{"items": f.items}))
}

func (f *fakeAPI) handleForms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"forms":[
		{"directory":"f1","name":"Beta","state":"open","stats":{"resultsCount":10,"filesSize":2048},"publish":{"link":"https://fs1.formsite.com/abc123/f1/index"}},
		{"directory":"f2","name":"Alpha","state":"closed","stats":{"resultsCount":250,"filesSize":512},"publish":{"link":"https://fs1.formsite.com/abc123/f2/index"}}
	]}`))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Token:          testToken,
		Server:         testServer,
		Directory:      testDirectory,
		BaseURL:        srv.URL + "/api/v2/" + testDirectory,
		MaxRetries:     2,
		RetryWaitMin:   time.Millisecond,
		RetryWaitMax:   5 * time.Millisecond,
		RateLimitDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return client
}
