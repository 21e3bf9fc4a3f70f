package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/legacy-adapter/pkg/logging"
)

// ErrTooManyPages is returned when the upstream reports more pages than
// Config.MaxPages allows.
var ErrTooManyPages = errors.New("page count exceeds limit")

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
	// MaxPages guards against a runaway page count from the upstream
	MaxPages int
}

// DefaultConfig returns safe default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		MaxPages:       500,
	}
}

// PageFetcher fetches a single page and returns its body and the total page
// count reported by the upstream.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, query url.Values, page int) (data []byte, totalPages int, err error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, endpoint string, query url.Values, page int) ([]byte, int, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, endpoint string, query url.Values, page int) ([]byte, int, error) {
	return f(ctx, endpoint, query, page)
}

// PageError reports which page failed.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger("pagination"),
	}
}

// Config returns the effective configuration.
func (bf *BatchFetcher) Config() Config {
	return bf.config
}

// FetchAllPages fetches every page of endpoint. The result maps page number
// (1-based) to page body. If any page fails, the outstanding fetches are
// cancelled and the first error is returned wrapped in *PageError.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string, query url.Values) (map[int][]byte, error) {
	start := time.Now()

	// Fetch first page to get total page count
	firstPageData, totalPages, err := bf.fetchPage(ctx, endpoint, query, 1)
	if err != nil {
		return nil, &PageError{Page: 1, Err: err}
	}
	if totalPages < 1 {
		totalPages = 1
	}
	if totalPages > bf.config.MaxPages {
		return nil, fmt.Errorf("%w: %s reports %d pages (max %d)", ErrTooManyPages, endpoint, totalPages, bf.config.MaxPages)
	}

	results := make(map[int][]byte, totalPages)
	results[1] = firstPageData

	// Single page optimization
	if totalPages == 1 {
		bf.logger.Debug().
			Str("endpoint", endpoint).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	bf.logger.Debug().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Int("max_concurrency", bf.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	var resultsMutex sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, _, err := bf.fetchPage(gctx, endpoint, query, page)
			if err != nil {
				return &PageError{Page: page, Err: err}
			}

			resultsMutex.Lock()
			results[page] = data
			resultsMutex.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// A sibling's cancellation is not the root cause; report the caller's
		// context error if that is what stopped us.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		bf.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("total_pages", totalPages).
			Msg("Page fetch failed, discarding partial results")
		return nil, err
	}

	bf.logger.Debug().
		Str("endpoint", endpoint).
		Int("pages", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

func (bf *BatchFetcher) fetchPage(ctx context.Context, endpoint string, query url.Values, page int) ([]byte, int, error) {
	pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()
	return bf.fetcher.FetchPage(pageCtx, endpoint, query, page)
}

// Ordered returns page bodies sorted by page number.
func Ordered(pages map[int][]byte) [][]byte {
	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([][]byte, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, pages[n])
	}
	return out
}
