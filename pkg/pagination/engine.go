package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/arcgis-client/pkg/client"
	"github.com/Sternrassler/arcgis-client/pkg/logging"
	"github.com/Sternrassler/arcgis-client/pkg/query"
	"github.com/Sternrassler/arcgis-client/pkg/service"
)

var (
	queryPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_query_pages_total",
		Help: "Total query pages by outcome (ok, failed, skipped)",
	}, []string{"outcome"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arcgis_query_duration_seconds",
		Help:    "Paginated query duration in seconds by final state",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"state"})
)

const (
	// DefaultPageSize applies when neither the layer nor Config names one.
	DefaultPageSize = 1000

	// DefaultMaxConcurrency bounds in-flight page requests per query.
	DefaultMaxConcurrency = 4
)

// Executor performs one logical request with its own retry budget.
// *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req client.Request) (client.Body, error)
}

// Config holds query engine configuration
type Config struct {
	// PageSizeHint is used when the layer does not advertise maxRecordCount.
	PageSizeHint int

	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int

	// PageTimeout bounds one page including its retries (0 = no limit)
	PageTimeout time.Duration

	// Method is GET (default) or POST, for long where clauses or geometries.
	Method string

	// OnState observes every state transition of a query.
	OnState func(State)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PageSizeHint:   DefaultPageSize,
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

// PageResult is the decoded content of one page.
type PageResult struct {
	Index         int
	Records       []query.Feature
	ExceededLimit bool
}

// Result is a complete query answer.
type Result struct {
	Features []query.Feature
	Total    int
	PageSize int
	Pages    int
}

// Engine runs paginated layer queries.
type Engine struct {
	exec   Executor
	config Config
	logger zerolog.Logger
}

// NewEngine creates a query engine.
func NewEngine(exec Executor, config Config) *Engine {
	if config.PageSizeHint <= 0 {
		config.PageSizeHint = DefaultPageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}

	return &Engine{
		exec:   exec,
		config: config,
		logger: logging.NewLogger("pagination"),
	}
}

// PageSize returns the effective page size for layer.
func (e *Engine) PageSize(layer service.Queryable) int {
	if n := layer.MaxRecordCount(); n > 0 {
		return n
	}
	return e.config.PageSizeHint
}

// Count returns the number of records matching params.
func (e *Engine) Count(ctx context.Context, layer service.Queryable, params query.Params) (int, error) {
	body, err := e.exec.Execute(ctx, client.Request{
		URL:    layer.QueryURL(),
		Params: params.CountValues(),
		Method: e.config.Method,
		Token:  layer.Token(),
	})
	if err != nil {
		return 0, err
	}

	total, ok := body.Int("count")
	if !ok || total < 0 {
		return 0, client.NewError(client.KindProtocol, 0, "count response without a valid count", nil)
	}
	return total, nil
}

// RunQuery retrieves every record matching params. It returns either all of
// them, ordered by page, or an error; never a partial result. params is
// copied before the first request.
func (e *Engine) RunQuery(ctx context.Context, layer service.Queryable, params query.Params) (*Result, error) {
	start := time.Now()
	snapshot := e.snapshot(layer, params)

	st := newTracker(e.config.OnState)
	result, err := e.run(ctx, st, layer, snapshot)
	if err != nil {
		st.fail()
	}

	queryDuration.WithLabelValues(st.state.String()).Observe(time.Since(start).Seconds())
	return result, err
}

func (e *Engine) snapshot(layer service.Queryable, params query.Params) query.Params {
	snapshot := params.Clone()
	if len(snapshot.OrderByFields) == 0 {
		if oid := layer.ObjectIDField(); oid != "" {
			snapshot.OrderByFields = []string{oid + " ASC"}
		}
	}
	return snapshot
}

func (e *Engine) run(ctx context.Context, st *tracker, layer service.Queryable, params query.Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, client.NewError(client.KindClient, 0, "invalid query", err)
	}

	if err := st.to(StateCountPending); err != nil {
		return nil, err
	}
	total, err := e.Count(ctx, layer, params)
	if err != nil {
		return nil, err
	}

	pageSize := e.PageSize(layer)
	pages, err := PlanPages(total, pageSize)
	if err != nil {
		return nil, client.NewError(client.KindInternal, 0, "plan pages", errors.Join(client.ErrInvariant, err))
	}
	if len(pages) > 1 && !layer.SupportsPagination() {
		return nil, client.NewError(client.KindClient, 0, fmt.Sprintf(
			"%d records exceed the page size %d of a layer without pagination support", total, pageSize), nil)
	}

	e.logger.Debug().
		Str("url", layer.URL()).
		Int("total", total).
		Int("page_size", pageSize).
		Int("pages", len(pages)).
		Msg("Starting paginated query")

	if err := st.to(StatePaging); err != nil {
		return nil, err
	}
	slots, err := e.fetchPages(ctx, layer, params, pages)
	if err != nil {
		return nil, err
	}

	if err := st.to(StateMerging); err != nil {
		return nil, err
	}
	features, err := merge(slots, total)
	if err != nil {
		return nil, err
	}

	if err := st.to(StateComplete); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("url", layer.URL()).
		Int("records", len(features)).
		Int("pages", len(pages)).
		Msg("Query complete")

	return &Result{
		Features: features,
		Total:    total,
		PageSize: pageSize,
		Pages:    len(pages),
	}, nil
}

// pageOutcome is what a worker reports for one page.
type pageOutcome struct {
	page    PageSpec
	result  *PageResult
	err     error
	skipped bool
}

// fetchPages runs every page through a bounded worker pool and fills one
// slot per page index. The first definitive failure cancels the siblings.
func (e *Engine) fetchPages(ctx context.Context, layer service.Queryable, params query.Params, pages []PageSpec) ([]*PageResult, error) {
	slots := make([]*PageResult, len(pages))
	if len(pages) == 0 {
		return slots, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan PageSpec, len(pages))
	outcomes := make(chan pageOutcome, len(pages))

	for _, p := range pages {
		pageQueue <- p
	}
	close(pageQueue)

	workers := min(e.config.MaxConcurrency, len(pages))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go e.worker(runCtx, layer, params, pageQueue, outcomes, &wg, i)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var failures []client.PageFailure
	for out := range outcomes {
		switch {
		case out.skipped:
			queryPagesTotal.WithLabelValues("skipped").Inc()
		case out.err != nil:
			// pages interrupted because a sibling already failed are not failures of their own
			if runCtx.Err() != nil && ctx.Err() == nil && client.KindOf(out.err) == client.KindCanceled {
				queryPagesTotal.WithLabelValues("skipped").Inc()
				continue
			}
			queryPagesTotal.WithLabelValues("failed").Inc()
			e.logger.Warn().
				Err(out.err).
				Int("page", out.page.Index).
				Int("offset", out.page.Offset).
				Msg("Page fetch failed")
			failures = append(failures, client.PageFailure{
				Index:  out.page.Index,
				Offset: out.page.Offset,
				Limit:  out.page.Limit,
				Err:    out.err,
			})
			cancel()
		default:
			queryPagesTotal.WithLabelValues("ok").Inc()
			slots[out.page.Index] = out.result
		}
	}

	if ctx.Err() != nil {
		return nil, client.NewError(client.KindCanceled, 0, "query cancelled", ctx.Err())
	}

	if len(failures) > 0 {
		abort := client.NewPaginationAbort(len(pages), failures)
		e.logger.Error().
			Str("url", layer.URL()).
			Ints("failed_offsets", abort.FailedOffsets()).
			Msg("Query aborted")
		return nil, abort
	}

	return slots, nil
}

// worker processes pages from the queue
func (e *Engine) worker(ctx context.Context, layer service.Queryable, params query.Params, pageQueue <-chan PageSpec, outcomes chan<- pageOutcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for page := range pageQueue {
		select {
		case <-ctx.Done():
			outcomes <- pageOutcome{page: page, skipped: true}
			continue
		default:
		}

		result, err := e.fetchPage(ctx, layer, params, page)
		outcomes <- pageOutcome{page: page, result: result, err: err}
		pagesProcessed++
	}

	e.logger.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker completed")
}

func (e *Engine) fetchPage(ctx context.Context, layer service.Queryable, params query.Params, page PageSpec) (*PageResult, error) {
	if e.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.PageTimeout)
		defer cancel()
	}

	body, err := e.exec.Execute(ctx, client.Request{
		URL:    layer.QueryURL(),
		Params: params.PageValues(page.Offset, page.Limit),
		Method: e.config.Method,
		Token:  layer.Token(),
	})
	if err != nil {
		return nil, err
	}

	if _, ok := body["features"]; !ok {
		return nil, client.NewError(client.KindProtocol, 0, "page without features", nil)
	}
	var set query.FeatureSet
	if err := body.Into(&set); err != nil {
		return nil, client.NewError(client.KindProtocol, 0, "malformed page", err)
	}

	return &PageResult{
		Index:         page.Index,
		Records:       set.Features,
		ExceededLimit: set.ExceededTransferLimit,
	}, nil
}

// merge concatenates slots in index order and checks the record count.
func merge(slots []*PageResult, total int) ([]query.Feature, error) {
	features := make([]query.Feature, 0, total)
	for i, slot := range slots {
		if slot == nil {
			return nil, client.NewError(client.KindInternal, 0,
				fmt.Sprintf("page %d has no result", i), client.ErrInvariant)
		}
		features = append(features, slot.Records...)
	}

	if len(features) != total {
		return nil, client.NewError(client.KindProtocol, 0, fmt.Sprintf(
			"merged %d records, count request reported %d", len(features), total), nil)
	}
	return features, nil
}
