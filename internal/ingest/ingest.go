// Package ingest drives the date × venue × race iteration and runs each race
// through fetch, parse, normalize, derive and store.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/boatrace-ingest/internal/derive"
	"github.com/JakeFAU/boatrace-ingest/internal/logging"
	"github.com/JakeFAU/boatrace-ingest/internal/metrics"
	"github.com/JakeFAU/boatrace-ingest/internal/normalize"
	"github.com/JakeFAU/boatrace-ingest/internal/parser"
	"github.com/JakeFAU/boatrace-ingest/internal/policy/retry"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
	"github.com/JakeFAU/boatrace-ingest/internal/telemetry"
)

// Config controls Orchestrator behavior.
type Config struct {
	Concurrency int
	RacesPerDay int
	// StoreAttempts bounds WriteRace calls per race, the first included.
	StoreAttempts int
	StoreBackoff  time.Duration
	// FetchResults pulls the finishing order from a separate page when the
	// race page carries none.
	FetchResults  bool
	ArchivePrefix string
	ContentType   string
}

// ResultFetcher is implemented by fetchers that can retrieve a separate
// finishing-order page. A nil page means no such page is configured.
type ResultFetcher interface {
	FetchResults(ctx context.Context, key race.Key) ([]byte, error)
}

// Orchestrator runs ingestion requests.
type Orchestrator struct {
	fetcher     race.Fetcher
	store       race.Store
	archive     race.BlobStore
	publisher   race.Publisher
	hasher      race.Hasher
	clock       race.Clock
	ids         race.IDGenerator
	storePolicy retry.Policy
	cfg         Config
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithArchive stores every fetched page before parsing.
func WithArchive(b race.BlobStore) Option {
	return func(o *Orchestrator) { o.archive = b }
}

// WithPublisher announces every committed race.
func WithPublisher(p race.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithHasher sets the content hasher recorded per race.
func WithHasher(h race.Hasher) Option {
	return func(o *Orchestrator) { o.hasher = h }
}

// WithClock replaces the wall clock.
func WithClock(c race.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(g race.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithStorePolicy overrides the WriteRace retry policy.
func WithStorePolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.storePolicy = p }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New constructs an Orchestrator.
func New(fetcher race.Fetcher, store race.Store, cfg Config, opts ...Option) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RacesPerDay <= 0 {
		cfg.RacesPerDay = race.DefaultRaces
	}
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = 2
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 100 * time.Millisecond
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	o := &Orchestrator{
		fetcher:     fetcher,
		store:       store,
		clock:       utcClock{},
		storePolicy: retry.New(cfg.StoreAttempts, cfg.StoreBackoff, 4*cfg.StoreBackoff),
		cfg:         cfg,
		logger:      zap.NewNop(),
		tracer:      telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run ingests every race selected by req. Per-race failures are recorded in
// the report and never stop the run; the returned error is non-nil only for
// an invalid request. Cancelling ctx stops new races from starting while
// races already in flight run to completion.
func (o *Orchestrator) Run(ctx context.Context, req Request) (RunReport, error) {
	keys, err := req.Keys(o.cfg.RacesPerDay)
	if err != nil {
		return RunReport{}, err
	}
	report := RunReport{Request: req, StartedAt: o.clock.Now()}
	if o.ids != nil {
		id, err := o.ids.NewID()
		if err != nil {
			return RunReport{}, fmt.Errorf("run id: %w", err)
		}
		report.RunID = id
	}
	ctx, span := o.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.races", len(keys)),
	))
	defer span.End()
	logger := o.logger.With(zap.String("run_id", report.RunID))
	logger.Info("Ingestion started",
		zap.String("start", req.Start),
		zap.String("end", req.End),
		zap.Strings("venues", req.Venues),
		zap.Int("races", len(keys)),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	outcomes := make([]RaceOutcome, len(keys))
	started := make([]bool, len(keys))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			// Cancellation is honored between races: once started, a race
			// finishes on a context that ignores the run's cancellation.
			outcomes[i] = o.ingestRace(context.WithoutCancel(ctx), logger, report.RunID, key)
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range started {
		if ok {
			report.Outcomes = append(report.Outcomes, outcomes[i])
		} else {
			report.Pending++
		}
	}
	report.Cancelled = ctx.Err() != nil && report.Pending > 0
	report.FinishedAt = o.clock.Now()

	counts := report.Counts()
	span.SetAttributes(attribute.Int("run.pending", report.Pending), attribute.Int("run.failed", len(report.Failed())))
	logger.Info("Ingestion finished",
		zap.Int("ok", counts[race.StatusOK]),
		zap.Int("ok_partial", counts[race.StatusOKPartial]),
		zap.Int("failed_fetch", counts[race.StatusFailedFetch]),
		zap.Int("failed_parse", counts[race.StatusFailedParse]),
		zap.Int("failed_store", counts[race.StatusFailedStore]),
		zap.Int("pending", report.Pending),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (o *Orchestrator) ingestRace(ctx context.Context, runLogger *zap.Logger, runID string, key race.Key) (out RaceOutcome) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := o.tracer.Start(ctx, "ingest.race", trace.WithAttributes(
		attribute.String("race.venue", key.Venue),
		attribute.String("race.date", key.Date),
		attribute.Int("race.number", key.RaceNo),
	))
	logger := logging.ForRace(runLogger, key).With(telemetry.TraceFields(ctx)...)
	begin := o.clock.Now()
	out.Key = key
	defer func() {
		out.Duration = o.clock.Now().Sub(begin)
		metrics.ObserveRace(key.Venue, string(out.Status))
		span.SetAttributes(attribute.String("race.status", string(out.Status)), attribute.Int("race.lanes", out.Lanes))
		if out.Error != "" {
			span.SetStatus(codes.Error, out.Error)
		}
		span.End()
		fields := []zap.Field{zap.String("status", string(out.Status)), zap.Duration("duration", out.Duration)}
		if out.Error != "" {
			logger.Warn("Race failed", append(fields, zap.String("error", out.Error))...)
			return
		}
		logger.Info("Race ingested", append(fields, zap.Int("lanes", out.Lanes), zap.Int("warnings", out.Warnings))...)
	}()

	page, err := o.fetcher.Fetch(ctx, key)
	if err != nil {
		out.Status = race.StatusFailedFetch
		out.Error = err.Error()
		return out
	}
	span.AddEvent("fetched", trace.WithAttributes(attribute.Int("bytes", len(page))))
	if o.hasher != nil {
		if out.ContentHash, err = o.hasher.Hash(page); err != nil {
			logger.Warn("Hash page failed", zap.Error(err))
		}
	}
	if o.archive != nil {
		uri, err := o.archive.PutObject(ctx, ArchivePath(o.cfg.ArchivePrefix, key), o.cfg.ContentType, bytes.NewReader(page))
		if err != nil {
			logger.Warn("Archive page failed", zap.Error(err))
		} else {
			out.ArchiveURI = uri
		}
	}

	raw, err := parser.Parse(page)
	if err != nil {
		out.Status = race.StatusFailedParse
		out.Error = err.Error()
		return out
	}
	for _, note := range raw.Notes {
		logger.Debug("Parse note", zap.String("note", note))
	}
	if len(raw.Results) == 0 && o.cfg.FetchResults {
		raw.Results = o.fetchResults(ctx, logger, key)
	}

	enriched := derive.Derive(key, normalize.Normalize(raw))
	if len(enriched.Entries) == 0 {
		out.Status = race.StatusFailedParse
		out.Error = (&race.ParseError{Kind: race.StructureMissing, Detail: "no usable entrant rows"}).Error()
		return out
	}
	out.Lanes = len(enriched.Entries)
	out.SkippedRows = enriched.SkippedRows
	out.Warnings = len(enriched.Warnings)
	out.Results = len(enriched.Results)
	logging.Warnings(logger, enriched.Warnings)
	observeWarnings(enriched.Warnings)

	status := race.StatusOK
	if enriched.Partial() {
		status = race.StatusOKPartial
	}
	batch := enriched.Batch(race.Ingestion{
		Status:      status,
		ContentHash: out.ContentHash,
		IngestedAt:  o.clock.Now(),
	})

	policy := o.storePolicy
	policy.OnRetry = func(attempt int, err error) {
		metrics.ObserveStoreRetry()
		logger.Warn("Retrying race write", zap.Int("attempt", attempt), zap.Error(err))
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		return o.store.WriteRace(ctx, batch)
	})
	out.Attempts = attempts
	if err != nil {
		out.Status = race.StatusFailedStore
		out.Error = err.Error()
		return out
	}
	out.Status = status
	if o.publisher != nil {
		o.publish(ctx, logger, &out, runID, batch.Ingestion.IngestedAt)
	}
	return out
}

// publish announces a committed race. Failures are logged; the rows are
// already durable.
func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, out *RaceOutcome, runID string, at time.Time) {
	id, err := o.publisher.Publish(ctx, RaceEvent{
		RunID:       runID,
		Key:         out.Key,
		Status:      out.Status,
		Lanes:       out.Lanes,
		Results:     out.Results,
		ContentHash: out.ContentHash,
		ArchiveURI:  out.ArchiveURI,
		IngestedAt:  at,
	})
	if err != nil {
		logger.Warn("Publish race event failed", zap.Error(err))
		return
	}
	out.MessageID = id
}

// fetchResults consults the separate results page. Failures leave results
// absent; they never fail the race.
func (o *Orchestrator) fetchResults(ctx context.Context, logger *zap.Logger, key race.Key) []race.RawResultRow {
	rf, ok := o.fetcher.(ResultFetcher)
	if !ok {
		return nil
	}
	page, err := rf.FetchResults(ctx, key)
	if err != nil {
		logger.Warn("Fetch results page failed", zap.Error(err))
		return nil
	}
	if page == nil {
		return nil
	}
	rows, err := parser.ParseResults(page)
	if err != nil {
		logger.Warn("Parse results page failed", zap.Error(err))
		return nil
	}
	return rows
}

func observeWarnings(warnings []race.FieldWarning) {
	byKind := make(map[race.WarningKind]int, 2)
	for _, w := range warnings {
		byKind[w.Kind]++
	}
	for kind, n := range byKind {
		metrics.ObserveFieldWarnings(string(kind), n)
	}
}

// ArchivePath is the object path of a race's raw page:
// <prefix>/<date>/<venue>/<race>.html.
func ArchivePath(prefix string, key race.Key) string {
	path := fmt.Sprintf("%s/%s/%d.html", key.Date, key.Venue, key.RaceNo)
	if p := strings.Trim(prefix, "/"); p != "" {
		return p + "/" + path
	}
	return path
}
