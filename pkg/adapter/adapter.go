package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/legacy-adapter/pkg/breaker"
	"github.com/Sternrassler/legacy-adapter/pkg/cache"
	"github.com/Sternrassler/legacy-adapter/pkg/client"
	"github.com/Sternrassler/legacy-adapter/pkg/logging"
	"github.com/Sternrassler/legacy-adapter/pkg/pagination"
	"github.com/Sternrassler/legacy-adapter/pkg/transform"
)

// idPlaceholder is replaced by the escaped key in Config.ItemPath.
const idPlaceholder = "{id}"

var (
	// ErrInvalidKey is returned by Fetch for a blank key.
	ErrInvalidKey = errors.New("invalid key")

	// ErrListUnsupported is returned by FetchAll when no ListPath is configured.
	ErrListUnsupported = errors.New("list endpoint not configured")
)

// Config wires one resource of the upstream.
type Config[L, M any] struct {
	// Name labels logs and metrics and is the cache namespace
	Name string

	// Resource is the resource class used in cache keys (e.g., "customers")
	Resource string

	// ItemPath is the single-record endpoint; "{id}" is replaced by the key
	ItemPath string

	// ListPath is the paginated list endpoint (optional)
	ListPath string

	// DefaultTTL is used when Fetch/FetchAll get ttl == 0
	DefaultTTL time.Duration

	// Transform maps a legacy record to the outward schema
	Transform transform.Func[L, M]

	// KeyOf returns the item key of a transformed record (optional).
	// When set, FetchAll also warms the item cache.
	KeyOf func(M) string

	Client  *client.Client
	Retrier *client.Retrier
	Breaker *breaker.Breaker

	// Pagination configures FetchAll page fetching
	Pagination pagination.Config

	// CacheShards sets the lock stripes of the item cache (0 = default)
	CacheShards int
}

// Validate checks the configuration.
func (c Config[L, M]) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("name is required")
	case c.Resource == "":
		return fmt.Errorf("resource is required")
	case !strings.Contains(c.ItemPath, idPlaceholder):
		return fmt.Errorf("item path %q must contain %s", c.ItemPath, idPlaceholder)
	case c.DefaultTTL < 0:
		return fmt.Errorf("default ttl must be >= 0 (got %s)", c.DefaultTTL)
	case c.Transform == nil:
		return fmt.Errorf("transform is required")
	case c.Client == nil:
		return fmt.Errorf("client is required")
	case c.Retrier == nil:
		return fmt.Errorf("retrier is required")
	case c.Breaker == nil:
		return fmt.Errorf("breaker is required")
	}
	return nil
}

// Option configures an Adapter.
type Option func(*options)

type options struct {
	staleTTL time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

// WithStaleOnOpen serves the last value seen for a key, for up to staleTTL,
// when the breaker refuses a call. Off by default.
func WithStaleOnOpen(staleTTL time.Duration) Option {
	return func(o *options) {
		o.staleTTL = staleTTL
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithClock replaces time.Now for the adapter's caches, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Stats is a snapshot of one adapter.
type Stats struct {
	Name                string        `json:"name"`
	CacheHits           uint64        `json:"cache_hits"`
	CacheMisses         uint64        `json:"cache_misses"`
	CacheKeys           int           `json:"cache_keys"`
	ListKeys            int           `json:"list_keys"`
	StaleKeys           int           `json:"stale_keys,omitempty"`
	CircuitState        string        `json:"circuit_state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RetryAfter          time.Duration `json:"retry_after"`
}

// Adapter serves records of one upstream resource. It is safe for
// concurrent use.
type Adapter[L, M any] struct {
	name       string
	resource   string
	itemPath   string
	listPath   string
	defaultTTL time.Duration
	transform  transform.Func[L, M]
	keyOf      func(M) string

	client  *client.Client
	retrier *client.Retrier
	breaker *breaker.Breaker
	pages   *pagination.BatchFetcher

	items *cache.Store[M]
	lists *cache.Store[[]M]
	// stale is nil unless WithStaleOnOpen was given
	stale    *cache.Store[M]
	staleTTL time.Duration

	itemFlights group
	listFlights group
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates an adapter.
func New[L, M any](cfg Config[L, M], opts ...Option) (*Adapter[L, M], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adapter %s: %w", cfg.Name, err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []cache.Option{cache.WithShards(cfg.CacheShards), cache.WithClock(o.now)}

	a := &Adapter[L, M]{
		name:       cfg.Name,
		resource:   cfg.Resource,
		itemPath:   cfg.ItemPath,
		listPath:   cfg.ListPath,
		defaultTTL: cfg.DefaultTTL,
		transform:  cfg.Transform,
		keyOf:      cfg.KeyOf,
		client:     cfg.Client,
		retrier:    cfg.Retrier,
		breaker:    cfg.Breaker,
		items:      cache.NewStore[M](cfg.Name, storeOpts...),
		lists:      cache.NewStore[[]M](cfg.Name+"-list", storeOpts...),
		now:        time.Now,
		logger:     logging.ForResource("adapter", cfg.Name),
	}
	if o.logger != nil {
		a.logger = *o.logger
	}
	if o.now != nil {
		a.now = o.now
	}
	if o.staleTTL > 0 {
		a.stale = cache.NewStore[M](cfg.Name+"-stale", storeOpts...)
		a.staleTTL = o.staleTTL
	}
	a.pages = pagination.NewBatchFetcher(pagination.PageFetcherFunc(a.fetchPage), cfg.Pagination)

	return a, nil
}

// Name returns the adapter name.
func (a *Adapter[L, M]) Name() string {
	return a.name
}

// Breaker returns the adapter's circuit breaker.
func (a *Adapter[L, M]) Breaker() *breaker.Breaker {
	return a.breaker
}

// Fetch returns the record for key, from cache when possible. ttl == 0 uses
// the configured default; ttl < 0 fetches without caching the result, and
// the result is then not kept for WithStaleOnOpen either.
func (a *Adapter[L, M]) Fetch(ctx context.Context, key string, ttl time.Duration) (M, error) {
	var zero M
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(a.name, "item").Observe(time.Since(start).Seconds())
	}()

	key = strings.TrimSpace(key)
	if key == "" {
		return zero, ErrInvalidKey
	}
	if ttl == 0 {
		ttl = a.defaultTTL
	}

	cacheKey := a.itemKey(key)
	if value, ok := a.items.Get(cacheKey); ok {
		fetchTotal.WithLabelValues(a.name, "item", resultHit).Inc()
		a.logger.Debug().Str("key", key).Msg("Cache hit")
		return value, nil
	}
	a.logger.Debug().Str("key", key).Msg("Cache miss")

	value, err := shared(ctx, &a.itemFlights, cacheKey, func() (M, error) {
		return a.load(ctx, key, cacheKey, ttl)
	}, func() {
		coalescedTotal.WithLabelValues(a.name, "item").Inc()
	})
	if err != nil {
		return zero, err
	}
	return value, nil
}

// load performs the upstream part of Fetch. It runs once per key at a time.
func (a *Adapter[L, M]) load(ctx context.Context, key, cacheKey string, ttl time.Duration) (M, error) {
	var zero M

	// Another caller may have filled the cache while we queued for the flight.
	if value, ok := a.items.Lookup(cacheKey); ok && !value.IsExpired(a.now()) {
		return value.Value, nil
	}

	ticket, err := a.breaker.Allow()
	if err != nil {
		if value, ok := a.serveStale(cacheKey); ok {
			return value, nil
		}
		fetchTotal.WithLabelValues(a.name, "item", resultRejected).Inc()
		a.logger.Warn().Err(err).Str("key", key).Msg("Upstream call rejected by circuit breaker")
		return zero, err
	}

	req := client.Request{
		Route: a.itemPath,
		Path:  strings.ReplaceAll(a.itemPath, idPlaceholder, url.PathEscape(key)),
	}
	record, err := client.Retry(ctx, a.retrier, func(ctx context.Context) (L, error) {
		var rec L
		_, err := a.client.GetJSON(ctx, req, &rec)
		return rec, err
	})

	a.breaker.Report(ticket, outcome(ctx, err))
	if err != nil {
		fetchTotal.WithLabelValues(a.name, "item", resultError).Inc()
		a.logFailure(ctx, err).Str("key", key).Msg("Upstream fetch failed")
		return zero, err
	}

	value, err := a.transform(record)
	if err != nil {
		transformErrorsTotal.WithLabelValues(a.name).Inc()
		fetchTotal.WithLabelValues(a.name, "item", resultError).Inc()
		a.logger.Warn().Err(err).Str("key", key).Msg("Upstream record could not be transformed")
		return zero, err
	}

	a.store(cacheKey, value, ttl)
	fetchTotal.WithLabelValues(a.name, "item", resultLoaded).Inc()
	return value, nil
}

// FetchAll returns every record of the list endpoint matching filter. All
// pages are fetched; if any page fails the whole call fails.
func (a *Adapter[L, M]) FetchAll(ctx context.Context, filter url.Values, ttl time.Duration) ([]M, error) {
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(a.name, "list").Observe(time.Since(start).Seconds())
	}()

	if a.listPath == "" {
		return nil, ErrListUnsupported
	}
	if ttl == 0 {
		ttl = a.defaultTTL
	}

	cacheKey := a.listKey(filter)
	if values, ok := a.lists.Get(cacheKey); ok {
		fetchTotal.WithLabelValues(a.name, "list", resultHit).Inc()
		return slices.Clone(values), nil
	}

	values, err := shared(ctx, &a.listFlights, cacheKey, func() ([]M, error) {
		return a.loadAll(ctx, filter, cacheKey, ttl)
	}, func() {
		coalescedTotal.WithLabelValues(a.name, "list").Inc()
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(values), nil
}

func (a *Adapter[L, M]) loadAll(ctx context.Context, filter url.Values, cacheKey string, ttl time.Duration) ([]M, error) {
	ticket, err := a.breaker.Allow()
	if err != nil {
		fetchTotal.WithLabelValues(a.name, "list", resultRejected).Inc()
		a.logger.Warn().Err(err).Msg("Upstream list call rejected by circuit breaker")
		return nil, err
	}

	records, err := a.fetchRecords(ctx, filter)
	a.breaker.Report(ticket, outcome(ctx, err))
	if err != nil {
		fetchTotal.WithLabelValues(a.name, "list", resultError).Inc()
		a.logFailure(ctx, err).Str("endpoint", a.listPath).Msg("Upstream list fetch failed")
		return nil, err
	}

	values := make([]M, 0, len(records))
	for _, record := range records {
		value, err := a.transform(record)
		if err != nil {
			transformErrorsTotal.WithLabelValues(a.name).Inc()
			fetchTotal.WithLabelValues(a.name, "list", resultError).Inc()
			a.logger.Warn().Err(err).Str("endpoint", a.listPath).Msg("Upstream list record could not be transformed")
			return nil, err
		}
		values = append(values, value)
	}

	if ttl > 0 {
		a.lists.Set(cacheKey, values, ttl)
		if a.keyOf != nil {
			for _, value := range values {
				if key := a.keyOf(value); key != "" {
					a.store(a.itemKey(key), value, ttl)
				}
			}
		}
	}
	fetchTotal.WithLabelValues(a.name, "list", resultLoaded).Inc()
	return values, nil
}

// fetchRecords fetches and decodes every page of the list endpoint.
func (a *Adapter[L, M]) fetchRecords(ctx context.Context, filter url.Values) ([]L, error) {
	pages, err := a.pages.FetchAllPages(ctx, a.listPath, filter)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The page timeout expired while the caller was still waiting.
		var upErr *client.UpstreamError
		if !errors.As(err, &upErr) && errors.Is(err, context.DeadlineExceeded) {
			return nil, &client.UpstreamError{
				Endpoint: a.listPath,
				Class:    client.ErrorClassNetwork,
				Message:  "page timeout",
				Err:      err,
			}
		}
		return nil, err
	}

	var records []L
	for i, body := range pagination.Ordered(pages) {
		var page []L
		if err := client.Decode(body, &page); err != nil {
			return nil, &client.UpstreamError{
				Endpoint:   a.listPath,
				StatusCode: 200,
				Class:      client.ErrorClassDecode,
				Message:    "malformed page " + strconv.Itoa(i+1),
				Err:        err,
			}
		}
		records = append(records, page...)
	}
	return records, nil
}

// fetchPage is the pagination.PageFetcher of the list endpoint. Each page is
// retried on its own.
func (a *Adapter[L, M]) fetchPage(ctx context.Context, endpoint string, query url.Values, page int) ([]byte, int, error) {
	q := make(url.Values, len(query)+1)
	for k, v := range query {
		q[k] = slices.Clone(v)
	}
	q.Set("page", strconv.Itoa(page))

	resp, err := client.Retry(ctx, a.retrier, func(ctx context.Context) (*client.Response, error) {
		return a.client.Get(ctx, client.Request{Route: a.listPath, Path: endpoint, Query: q})
	})
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.Pages(), nil
}

// Invalidate drops key from the cache together with every cached list,
// since lists may contain the record.
func (a *Adapter[L, M]) Invalidate(key string) {
	cacheKey := a.itemKey(strings.TrimSpace(key))
	a.items.Delete(cacheKey)
	if a.stale != nil {
		a.stale.Delete(cacheKey)
	}
	a.lists.Purge()
}

// InvalidateAll drops every cached record and list.
func (a *Adapter[L, M]) InvalidateAll() {
	a.items.Purge()
	a.lists.Purge()
	if a.stale != nil {
		a.stale.Purge()
	}
	a.logger.Info().Msg("Cache invalidated")
}

// Stats returns a snapshot of the adapter's cache and breaker.
func (a *Adapter[L, M]) Stats() Stats {
	items := a.items.Stats()
	snap := a.breaker.Snapshot()

	s := Stats{
		Name:                a.name,
		CacheHits:           items.Hits,
		CacheMisses:         items.Misses,
		CacheKeys:           items.Keys,
		ListKeys:            a.lists.Len(),
		CircuitState:        snap.StateName,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		RetryAfter:          snap.RetryAfter,
	}
	if a.stale != nil {
		s.StaleKeys = a.stale.Len()
	}
	return s
}

// store caches value. A ttl <= 0 opts out of caching, stale copy included.
func (a *Adapter[L, M]) store(cacheKey string, value M, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	a.items.Set(cacheKey, value, ttl)
	if a.stale != nil {
		a.stale.Set(cacheKey, value, a.staleTTL)
	}
}

func (a *Adapter[L, M]) serveStale(cacheKey string) (M, bool) {
	var zero M
	if a.stale == nil {
		return zero, false
	}
	value, ok := a.stale.Get(cacheKey)
	if !ok {
		return zero, false
	}
	fetchTotal.WithLabelValues(a.name, "item", resultStale).Inc()
	a.logger.Warn().Str("cache_key", cacheKey).Msg("Circuit open, serving stale value")
	return value, true
}

func (a *Adapter[L, M]) itemKey(key string) string {
	return cache.CacheKey{Namespace: a.name, Resource: a.resource, ID: key}.String()
}

func (a *Adapter[L, M]) listKey(filter url.Values) string {
	return cache.CacheKey{Namespace: a.name, Resource: a.resource, Query: filter}.String()
}

// logFailure picks the log level for a failed upstream call.
func (a *Adapter[L, M]) logFailure(ctx context.Context, err error) *zerolog.Event {
	if ctx.Err() != nil {
		return a.logger.Debug().Err(err)
	}
	return a.logger.Error().Err(err).Str("error_class", string(client.ClassOf(err)))
}

// outcome maps the result of an upstream call to what the breaker records.
func outcome(ctx context.Context, err error) breaker.Outcome {
	if err == nil {
		return breaker.Success
	}
	if ctx.Err() != nil {
		// The caller gave up; this says nothing about upstream health.
		return breaker.Ignore
	}

	var upErr *client.UpstreamError
	if errors.As(err, &upErr) {
		if upErr.Class == client.ErrorClassClient {
			// The upstream answered; a 404 is not an outage.
			return breaker.Success
		}
		return breaker.Failure
	}
	if errors.Is(err, pagination.ErrTooManyPages) {
		return breaker.Success
	}
	return breaker.Failure
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var upErr *client.UpstreamError
	return errors.As(err, &upErr) && upErr.StatusCode == 404
}
