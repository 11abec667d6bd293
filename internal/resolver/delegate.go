package resolver

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
)

// Delegate supplies the random choices the resolver makes outside the
// noise strategy. Tests replace it with a scripted implementation.
type Delegate interface {
	// AggregatableReportDelay is added to the trigger time of aggregatable
	// and null reports.
	AggregatableReportDelay() time.Duration

	// GenerateNullReport decides whether to emit a null report for the
	// given lookback day, sampled at rate.
	GenerateNullReport(day int, rate float64) bool

	// OfflineReportDelay is added to now for a report found overdue.
	OfflineReportDelay(d config.OfflineReportDelay) time.Duration

	// ShuffleReports reorders a truncated page of reports in place.
	ShuffleReports(reports []*attribution.Report)
}

// RandomDelegate draws every choice from a PCG generator. Safe for
// concurrent use.
type RandomDelegate struct {
	cfg *config.Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDelegate creates a delegate reading delays from cfg.
func NewRandomDelegate(cfg *config.Config) *RandomDelegate {
	return &RandomDelegate{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (d *RandomDelegate) AggregatableReportDelay() time.Duration {
	return d.cfg.Aggregate.MinDelay.Std() + d.span(d.cfg.Aggregate.DelaySpan.Std())
}

func (d *RandomDelegate) GenerateNullReport(_ int, rate float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < rate
}

func (d *RandomDelegate) OfflineReportDelay(o config.OfflineReportDelay) time.Duration {
	return o.Min.Std() + d.span(o.Max.Std()-o.Min.Std()+1)
}

func (d *RandomDelegate) ShuffleReports(reports []*attribution.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rng.Shuffle(len(reports), func(i, j int) {
		reports[i], reports[j] = reports[j], reports[i]
	})
}

// span returns a uniform duration in [0, n).
func (d *RandomDelegate) span(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.rng.Int64N(int64(n)))
}
