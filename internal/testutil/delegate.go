package testutil

import (
	"slices"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
)

// DefaultReportDelay is the aggregatable report delay of a zero Delegate
// built with NewDelegate.
const DefaultReportDelay = time.Hour

// Delegate makes every resolver choice deterministic: a fixed aggregatable
// delay, an explicit set of null report lookback days, a fixed offline
// delay and a reversing shuffle.
type Delegate struct {
	ReportDelay  time.Duration
	NullDays     []int
	OfflineDelay time.Duration
}

// NewDelegate returns a delegate with DefaultReportDelay and no null reports.
func NewDelegate() *Delegate {
	return &Delegate{ReportDelay: DefaultReportDelay}
}

func (d *Delegate) AggregatableReportDelay() time.Duration {
	return d.ReportDelay
}

// GenerateNullReport ignores rate and answers from NullDays.
func (d *Delegate) GenerateNullReport(day int, _ float64) bool {
	return slices.Contains(d.NullDays, day)
}

func (d *Delegate) OfflineReportDelay(config.OfflineReportDelay) time.Duration {
	return d.OfflineDelay
}

// ShuffleReports reverses the page, which is enough to observe that a
// shuffle happened.
func (d *Delegate) ShuffleReports(reports []*attribution.Report) {
	slices.Reverse(reports)
}
