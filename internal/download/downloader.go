package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers     = 5
	DefaultTimeout     = 80 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

var ErrInvalidURL = errors.New("invalid download url")

// StatusError is a download answered with a non-200 status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if errors.Is(err, ErrInvalidURL) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode != http.StatusForbidden && statusErr.StatusCode != http.StatusNotFound
	}
	return true
}

type Options struct {
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between attempts.
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Workers:     DefaultWorkers,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

// ProgressFunc is called after each finished download.
type ProgressFunc func(status Status, done, total int)

// Downloader fetches files concurrently into a sink. A failed download never
// stops the others.
type Downloader struct {
	sink       engine.Sink
	httpClient *http.Client
	opts       Options
	logger     *zap.Logger
	progress   ProgressFunc
}

type Option func(*Downloader)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) {
		d.progress = fn
	}
}

func New(sink engine.Sink, opts Options, options ...Option) *Downloader {
	opts.Workers = lo.CoalesceOrEmpty(opts.Workers, DefaultWorkers)
	opts.Timeout = lo.CoalesceOrEmpty(opts.Timeout, DefaultTimeout)
	opts.MaxAttempts = lo.CoalesceOrEmpty(opts.MaxAttempts, DefaultMaxAttempts)

	d := &Downloader{
		sink:   sink,
		opts:   opts,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(d)
	}

	if d.httpClient == nil {
		// each attempt carries its own deadline
		d.httpClient = cleanhttp.DefaultPooledClient()
	}

	return d
}

// Run downloads every target and reports the outcome of each, in target
// order. The error is only set when ctx ends before all downloads finish.
func (d *Downloader) Run(ctx context.Context, targets []Target) (*Report, error) {
	report := &Report{Statuses: make([]Status, len(targets))}

	var (
		mu   sync.Mutex
		done int
	)

	g := new(errgroup.Group)
	g.SetLimit(d.opts.Workers)
	for i, target := range targets {
		if ctx.Err() != nil {
			report.Statuses[i] = Status{URL: target.URL, Name: target.Name, Err: ctx.Err()}
			continue
		}

		g.Go(func() error {
			status := d.download(ctx, target)
			report.Statuses[i] = status

			mu.Lock()
			done++
			current := done
			mu.Unlock()

			if status.OK() {
				d.logger.Debug("downloaded file", zap.String("url", target.URL), zap.String("name", target.Name))
			} else {
				d.logger.Warn("failed to download file",
					zap.String("url", target.URL),
					zap.Int("attempts", status.Attempts),
					zap.Error(status.Err),
				)
			}

			if d.progress != nil {
				d.progress(status, current, len(targets))
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("downloads finished",
		zap.Int("total", len(targets)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("downloads interrupted: %w", err)
	}
	return report, nil
}

func (d *Downloader) download(ctx context.Context, target Target) Status {
	status := Status{URL: target.URL, Name: target.Name}

	if err := validateTarget(target); err != nil {
		status.Err = err
		return status
	}

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		status.Attempts = attempt
		status.Err = d.attempt(ctx, target)
		if status.Err == nil || !retryable(status.Err) || ctx.Err() != nil {
			break
		}

		if attempt < d.opts.MaxAttempts && d.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return status
			case <-time.After(d.opts.RetryDelay * time.Duration(attempt)):
			}
		}
	}

	if status.Err != nil && status.Attempts > 1 {
		status.Err = fmt.Errorf("failed %d times: %w", status.Attempts, status.Err)
	}
	return status
}

func (d *Downloader) attempt(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", "fsexport/0.1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if err := d.sink.Write(ctx, target.Name, resp.Body); err != nil {
		return err
	}
	return nil
}

func validateTarget(target Target) error {
	u, err := url.Parse(target.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, target.URL)
	}
	if target.Name == "" || strings.ContainsAny(target.Name, `/\`) || target.Name == ".." {
		return fmt.Errorf("%w: no usable file name in %q", ErrInvalidURL, target.URL)
	}
	return nil
}
