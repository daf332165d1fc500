package formsite

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/fsexport/fsexport/internal/engine"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultPageConcurrency = 4

// ProgressFunc is called after each fetched page.
type ProgressFunc func(done, total int)

// Export is the assembled result of one fetch.
type Export struct {
	FormID string
	Table  *engine.Table
	Items  []Item
	Labels map[string]string
	Pages  int
}

// Fetcher downloads the results and items of one form.
type Fetcher struct {
	client          *Client
	formID          string
	params          Parameters
	pageConcurrency int
	progress        ProgressFunc
	logger          *zap.Logger
}

type FetcherOption func(*Fetcher)

func WithPageConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageConcurrency = n
		}
	}
}

func WithProgress(fn ProgressFunc) FetcherOption {
	return func(f *Fetcher) {
		f.progress = fn
	}
}

func WithFetcherLogger(logger *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func NewFetcher(client *Client, formID string, params Parameters, opts ...FetcherOption) (*Fetcher, error) {
	if formID == "" {
		return nil, ErrMissingFormID
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	f := &Fetcher{
		client:          client,
		formID:          formID,
		params:          params,
		pageConcurrency: DefaultPageConcurrency,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch retrieves items and every results page concurrently and assembles
// them into a labelled table. Any failed request fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context) (*Export, error) {
	loc, err := f.params.Location()
	if err != nil {
		return nil, err
	}

	var (
		items []Item
		pages [][]json.RawMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = f.client.FetchItems(gctx, f.formID, f.params)
		return err
	})
	g.Go(func() error {
		var err error
		pages, err = f.fetchResults(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parser := NewParser()
	for i, page := range pages {
		if err := parser.Feed(page); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
	}

	table := parser.Table(loc)
	labels := RenameMap(items)
	table.Relabel(labels)
	table.Head(f.params.Last)

	if table.Empty() {
		f.logger.Warn("no results in specified parameters", zap.String("form", f.formID))
	}

	f.logger.Debug("fetched form",
		zap.String("form", f.formID),
		zap.Int("pages", len(pages)),
		zap.Int("results", table.Len()),
		zap.Int("items", len(items)),
	)

	return &Export{
		FormID: f.formID,
		Table:  table,
		Items:  items,
		Labels: labels,
		Pages:  len(pages),
	}, nil
}

type resultsPage struct {
	Results []json.RawMessage `json:"results"`
}

// fetchResults fetches page 1 to learn the page count, then the remaining
// pages concurrently. Pages are returned in page order.
func (f *Fetcher) fetchResults(ctx context.Context) ([][]json.RawMessage, error) {
	first, total, err := f.fetchPage(ctx, 1)
	if err != nil {
		return nil, err
	}

	if maxPages := f.params.MaxPages(); maxPages > 0 && total > maxPages {
		total = maxPages
	}

	pages := make([][]json.RawMessage, total)
	pages[0] = first

	var done atomic.Int64
	f.reportProgress(int(done.Add(1)), total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.pageConcurrency)
	for page := 2; page <= total; page++ {
		g.Go(func() error {
			results, _, err := f.fetchPage(gctx, page)
			if err != nil {
				return err
			}
			pages[page-1] = results
			f.reportProgress(int(done.Add(1)), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return pages, nil
}

// fetchPage returns the results of a page and the total page count.
func (f *Fetcher) fetchPage(ctx context.Context, page int) ([]json.RawMessage, int, error) {
	query, err := f.params.ResultsQuery(page)
	if err != nil {
		return nil, 0, err
	}

	var out resultsPage
	header, err := f.client.getJSON(ctx, "forms/"+f.formID+"/results", query, &out)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch results page %d of form %s: %w", page, f.formID, err)
	}

	total, err := strconv.Atoi(header.Get("Pagination-Page-Last"))
	if err != nil || total < 1 {
		total = 1
	}

	f.logger.Debug("fetched results page",
		zap.String("form", f.formID),
		zap.Int("page", page),
		zap.Int("total", total),
		zap.Int("results", len(out.Results)),
	)

	return out.Results, total, nil
}

func (f *Fetcher) reportProgress(done, total int) {
	if f.progress != nil {
		f.progress(done, total)
	}
}
