package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/mcf-jobs-export/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 100

const maxPrealloc = 10000

// ErrNegativeCount is returned for a negative target count.
var ErrNegativeCount = errors.New("target count must not be negative")

var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcf_pages_fetched_total",
		Help: "Total pages fetched successfully",
	})

	pagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcf_pages_failed_total",
		Help: "Total page fetches that aborted a run",
	})

	recordsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcf_records_fetched_total",
		Help: "Total records received from the jobs API",
	})

	fetchProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcf_fetch_progress_ratio",
		Help: "Completed pages of the current run divided by its total pages",
	})
)

// Config holds paginator configuration
type Config struct {
	// PageSize is the limit sent with every request
	PageSize int
	// PageTimeout bounds a single page fetch including retries (0 = none)
	PageTimeout time.Duration
}

// DefaultConfig returns the default paginator configuration
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
	}
}

// PageFetcher is the interface the jobs client implements for single-page fetching
type PageFetcher interface {
	// FetchPage fetches the records at offset, at most limit of them
	FetchPage(ctx context.Context, limit, offset int) ([]record.Record, error)
}

// Progress describes a completed page.
type Progress struct {
	Page       int // 1-based
	TotalPages int
	Records    int // accumulated so far
}

// PageError reports the page that aborted a fetch.
type PageError struct {
	Page   int // 1-based
	Offset int
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("fetch page %d (offset %d): %v", e.Page, e.Offset, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithProgress registers a callback invoked after every completed page.
func WithProgress(fn func(Progress)) Option {
	return func(p *Paginator) {
		p.progress = fn
	}
}

// Paginator fetches a fixed number of pages sequentially
type Paginator struct {
	fetcher  PageFetcher
	config   Config
	progress func(Progress)
}

// New creates a new paginator
func New(fetcher PageFetcher, config Config, opts ...Option) *Paginator {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.PageTimeout < 0 {
		config.PageTimeout = 0
	}

	p := &Paginator{
		fetcher: fetcher,
		config:  config,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageCount returns ceil(targetCount / pageSize) for non-negative counts.
func PageCount(targetCount, pageSize int) int {
	if targetCount <= 0 || pageSize <= 0 {
		return 0
	}
	count := targetCount / pageSize
	if targetCount%pageSize != 0 {
		count++
	}
	return count
}

// PageSize returns the configured page size.
func (p *Paginator) PageSize() int {
	return p.config.PageSize
}

// Fetch requests PageCount(targetCount, PageSize) pages and returns their records
// in page order. The first failing page aborts the fetch; no records are returned then.
func (p *Paginator) Fetch(ctx context.Context, targetCount int) ([]record.Record, error) {
	if targetCount < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrNegativeCount, targetCount)
	}

	start := time.Now()
	totalPages := PageCount(targetCount, p.config.PageSize)
	fetchProgress.Set(0)

	log.Info().
		Int("target_count", targetCount).
		Int("page_size", p.config.PageSize).
		Int("total_pages", totalPages).
		Msg("Starting page fetch")

	results := make([]record.Record, 0, min(targetCount, maxPrealloc))

	for i := 0; i < totalPages; i++ {
		page := i + 1
		offset := i * p.config.PageSize

		records, err := p.fetchPage(ctx, offset)
		if err != nil {
			pagesFailed.Inc()
			log.Error().
				Err(err).
				Int("page", page).
				Int("offset", offset).
				Int("fetched_pages", i).
				Int("total_pages", totalPages).
				Msg("Page fetch failed, aborting")
			return nil, &PageError{Page: page, Offset: offset, Err: err}
		}

		results = append(results, records...)

		pagesFetched.Inc()
		recordsFetched.Add(float64(len(records)))
		fetchProgress.Set(float64(page) / float64(totalPages))

		log.Info().
			Int("page", page).
			Int("total_pages", totalPages).
			Int("page_records", len(records)).
			Int("records", len(results)).
			Float64("progress_pct", float64(page)/float64(totalPages)*100).
			Msg("Fetch progress")

		if len(records) < p.config.PageSize {
			log.Debug().
				Int("page", page).
				Int("page_records", len(records)).
				Msg("Short page")
		}

		if p.progress != nil {
			p.progress(Progress{Page: page, TotalPages: totalPages, Records: len(results)})
		}
	}

	log.Info().
		Int("pages", totalPages).
		Int("records", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// fetchPage fetches one page, bounded by the per-page timeout when set
func (p *Paginator) fetchPage(ctx context.Context, offset int) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.PageTimeout)
		defer cancel()
	}

	return p.fetcher.FetchPage(ctx, p.config.PageSize, offset)
}
