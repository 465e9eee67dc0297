package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/activecampaign-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Defaults matching the API's maximum page size and a pool that keeps the
// rate limit guard saturated.
const (
	DefaultPageSize = 100
	DefaultWorkers  = 6
)

// ErrCollectionChanged is returned when pages disagree with the total
// reported by the first page, e.g. because records were added or removed
// while the collection was being read.
var ErrCollectionChanged = errors.New("collection changed during fetch")

// Prometheus metrics for collection fetches.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_pages_fetched_total",
		Help: "Total number of pages fetched by resource",
	}, []string{"resource"})

	fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ac_fetch_duration_seconds",
		Help:    "Duration of complete collection fetches by resource",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"resource"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_fetch_errors_total",
		Help: "Total number of aborted collection fetches by resource",
	}, []string{"resource"})
)

// PageRequest selects one page of a collection.
type PageRequest struct {
	Offset int
	Limit  int
	// Filter is an opaque query fragment appended to the page query,
	// e.g. "&tagid=4&status=1".
	Filter string
}

// Page is one fetched page: its elements in collection order and the
// collection size the server reported alongside them.
type Page[T any] interface {
	Total() int
	Elements() []T
}

// PageFetcher fetches a single page.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, req PageRequest) (Page[T], error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, req PageRequest) (Page[T], error)

// FetchPage implements PageFetcher.
func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, req PageRequest) (Page[T], error) {
	return f(ctx, req)
}

// ProgressFunc observes fetch progress: elements copied so far and the
// collection total.
type ProgressFunc func(processed, total int)

// Config holds batch fetcher configuration.
type Config struct {
	// PageSize is the limit sent with every page request.
	PageSize int
	// Workers is the number of concurrent page requests.
	Workers int
	// Resource labels logs and metrics, e.g. "contacts".
	Resource string
	// Progress, when set, is called after every non-empty page. It may be
	// called from several goroutines at once.
	Progress ProgressFunc
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
		Workers:  DefaultWorkers,
	}
}

// BatchFetcher reads whole collections through concurrent page requests.
type BatchFetcher[T any] struct {
	fetcher PageFetcher[T]
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher[T any](fetcher PageFetcher[T], config Config) *BatchFetcher[T] {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Resource == "" {
		config.Resource = "unknown"
	}

	return &BatchFetcher[T]{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger(logging.ComponentPagination).With().Str("resource", config.Resource).Logger(),
	}
}

// fetchState is shared by the workers of one FetchAll call.
type fetchState[T any] struct {
	cursor    *atomic.Int64
	processed *atomic.Int64

	sizeOnce sync.Once
	buffer   []T
	sizeErr  error

	errOnce  sync.Once
	firstErr error
	cancel   context.CancelFunc
}

func (s *fetchState[T]) fail(err error) {
	s.errOnce.Do(func() {
		s.firstErr = err
		s.cancel()
	})
}

// FetchAll returns every element of the collection in ascending offset
// order. Workers claim disjoint offsets from a shared cursor until a page
// comes back short. Any failure aborts the whole fetch; no partial result
// is ever returned.
func (bf *BatchFetcher[T]) FetchAll(ctx context.Context, filter string) ([]T, error) {
	start := time.Now()
	logger := bf.logger.With().Str("fetch_id", xid.New().String()).Logger()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &fetchState[T]{
		cursor:    atomic.NewInt64(0),
		processed: atomic.NewInt64(0),
		cancel:    cancel,
	}

	logger.Debug().
		Int("page_size", bf.config.PageSize).
		Int("workers", bf.config.Workers).
		Str("filter", filter).
		Msg("Starting parallel page fetch")

	var wg sync.WaitGroup
	for i := 0; i < bf.config.Workers; i++ {
		wg.Add(1)
		go bf.worker(workCtx, filter, state, &wg, i, logger)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		fetchErrorsTotal.WithLabelValues(bf.config.Resource).Inc()
		logger.Warn().
			Err(err).
			Int64("processed", state.processed.Load()).
			Msg("Fetch cancelled")
		return nil, fmt.Errorf("fetch %s: %w", bf.config.Resource, err)
	}

	if state.firstErr != nil {
		fetchErrorsTotal.WithLabelValues(bf.config.Resource).Inc()
		logger.Error().
			Err(state.firstErr).
			Int64("processed", state.processed.Load()).
			Msg("Fetch aborted")
		return nil, state.firstErr
	}

	if state.buffer == nil {
		logger.Info().Dur("duration", time.Since(start)).Msg("Fetch complete (empty collection)")
		return []T{}, nil
	}

	if processed := state.processed.Load(); processed != int64(len(state.buffer)) {
		fetchErrorsTotal.WithLabelValues(bf.config.Resource).Inc()
		err := fmt.Errorf("%w: received %d of %d elements", ErrCollectionChanged, processed, len(state.buffer))
		logger.Error().Err(err).Msg("Fetch aborted")
		return nil, err
	}

	fetchDurationSeconds.WithLabelValues(bf.config.Resource).Observe(time.Since(start).Seconds())
	logger.Info().
		Int("elements", len(state.buffer)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return state.buffer, nil
}

// worker claims pages until it sees the end of the collection or the
// fetch is aborted.
func (bf *BatchFetcher[T]) worker(ctx context.Context, filter string, state *fetchState[T], wg *sync.WaitGroup, workerID int, logger zerolog.Logger) {
	defer wg.Done()
	pagesProcessed := 0
	pageSize := bf.config.PageSize

	for ctx.Err() == nil {
		offset := int(state.cursor.Add(int64(pageSize))) - pageSize

		page, err := bf.fetcher.FetchPage(ctx, PageRequest{
			Offset: offset,
			Limit:  pageSize,
			Filter: filter,
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Int("offset", offset).
					Msg("Page fetch failed")
				state.fail(fmt.Errorf("fetch page at offset %d: %w", offset, err))
			}
			return
		}
		pagesFetchedTotal.WithLabelValues(bf.config.Resource).Inc()
		pagesProcessed++

		elements := page.Elements()
		if len(elements) > 0 {
			// First non-empty page sizes the buffer; every later writer
			// blocks in Do until that has happened.
			state.sizeOnce.Do(func() {
				total := page.Total()
				if total < len(elements) {
					state.sizeErr = fmt.Errorf("%w: page at offset %d holds %d elements, total is %d",
						ErrCollectionChanged, offset, len(elements), total)
					return
				}
				state.buffer = make([]T, total)
			})
			if state.sizeErr != nil {
				state.fail(state.sizeErr)
				return
			}

			if offset+len(elements) > len(state.buffer) {
				state.fail(fmt.Errorf("%w: page at offset %d holds %d elements, total is %d",
					ErrCollectionChanged, offset, len(elements), len(state.buffer)))
				return
			}
			// Claims never overlap, so neither do these ranges.
			copy(state.buffer[offset:offset+len(elements)], elements)

			processed := state.processed.Add(int64(len(elements)))
			if bf.config.Progress != nil {
				bf.config.Progress(int(processed), len(state.buffer))
			}
		}

		if len(elements) < pageSize {
			break
		}
	}

	logger.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker completed")
}

// Count reads only the collection total, using a one-element page.
func (bf *BatchFetcher[T]) Count(ctx context.Context, filter string) (int, error) {
	page, err := bf.fetcher.FetchPage(ctx, PageRequest{Offset: 0, Limit: 1, Filter: filter})
	if err != nil {
		return 0, fmt.Errorf("fetch count: %w", err)
	}
	pagesFetchedTotal.WithLabelValues(bf.config.Resource).Inc()
	return page.Total(), nil
}
