package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/budget"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
	"github.com/arter97/chromium-tesla-sub003/internal/noise"
	"github.com/arter97/chromium-tesla-sub003/internal/ratelimit"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// Clock supplies the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ReportIDGenerator produces external report IDs.
// Implemented by UUIDGenerator (production) and testutil.SequenceGenerator (tests).
type ReportIDGenerator interface {
	Generate() string
}

// Resolver is the single-writer facade over the attribution store.
//
// Every exported operation runs inside one store transaction, so a failure
// leaves no partial state behind. Resolver does no locking: callers invoke
// it from one goroutine at a time.
type Resolver struct {
	store    *store.Store
	cfg      *config.Config
	clock    Clock
	noise    noise.Strategy
	calc     *noise.Calculator
	delegate Delegate
	ids      ReportIDGenerator
	logger   *slog.Logger

	limiter *ratelimit.Limiter
	tracker *budget.Tracker
	debug   *budget.DebugLimiter

	lastSourceSweep time.Time
	lastRatePrune   time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithNoise overrides the randomized response strategy.
func WithNoise(s noise.Strategy) Option {
	return func(r *Resolver) { r.noise = s }
}

// WithDelegate overrides report delays, null report sampling and shuffling.
func WithDelegate(d Delegate) Option {
	return func(r *Resolver) { r.delegate = d }
}

// WithReportIDGenerator overrides external report ID generation.
func WithReportIDGenerator(g ReportIDGenerator) Option {
	return func(r *Resolver) { r.ids = g }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver over s. cfg is copied; later changes by the
// caller have no effect.
func New(s *store.Store, cfg config.Config, opts ...Option) (*Resolver, error) {
	calc, err := noise.NewCalculator()
	if err != nil {
		return nil, fmt.Errorf("create noise calculator: %w", err)
	}

	c := cfg
	r := &Resolver{
		store:   s,
		cfg:     &c,
		clock:   systemClock{},
		noise:   noise.NewRandomized(),
		calc:    calc,
		ids:     UUIDGenerator{},
		logger:  slog.Default(),
		limiter: ratelimit.New(&c),
		tracker: budget.NewTracker(&c),
		debug:   budget.NewDebugLimiter(&c),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.delegate == nil {
		r.delegate = NewRandomDelegate(&c)
	}
	return r, nil
}

// Config returns the policy in effect.
func (r *Resolver) Config() config.Config {
	return *r.cfg
}

// Close releases the noise cache and the store.
func (r *Resolver) Close() error {
	var result *multierror.Error
	if err := r.calc.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close noise calculator: %w", err))
	}
	if err := r.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}

// purgeCorrupt deletes rows that failed to decode. Corrupt sources take
// their reports with them.
func (r *Resolver) purgeCorrupt(ctx context.Context, tx *store.Tx, corrupt []*store.CorruptionError) error {
	if len(corrupt) == 0 {
		return nil
	}
	var sources []attribution.SourceID
	var reports []attribution.ReportID
	for _, c := range corrupt {
		r.logger.Warn("deleting corrupt row", "kind", c.Kind, "id", c.ID, "reason", c.Reason)
		switch c.Kind {
		case store.CorruptSource:
			sources = append(sources, attribution.SourceID(c.ID))
		case store.CorruptReport:
			reports = append(reports, attribution.ReportID(c.ID))
		}
	}
	if _, err := tx.DeleteReports(ctx, reports); err != nil {
		return err
	}
	if _, err := tx.DeleteReportsForSources(ctx, sources); err != nil {
		return err
	}
	if _, err := tx.DeleteSources(ctx, sources); err != nil {
		return err
	}
	return nil
}
