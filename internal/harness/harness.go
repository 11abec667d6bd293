package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
	"github.com/arter97/chromium-tesla-sub003/internal/noise"
	"github.com/arter97/chromium-tesla-sub003/internal/resolver"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
	"github.com/arter97/chromium-tesla-sub003/internal/testutil"
)

// DefaultStart is the fake clock's initial time when a scenario sets none.
var DefaultStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Harness executes scenario steps against one resolver.
type Harness struct {
	resolver *resolver.Resolver
	clock    *testutil.FakeClock
	logger   *slog.Logger
	seq      int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. The clock, report IDs,
// noise and delegate choices are all deterministic, so equal scenarios
// produce equal traces.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with resolver and step logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	cfg := config.Default()
	if scenario.Config.Kind != 0 {
		if err := scenario.Config.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config overrides: %w", err)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config overrides: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	clock := testutil.NewFakeClock(start)

	delegate := testutil.NewDelegate()
	if scenario.ReportDelay > 0 {
		delegate.ReportDelay = scenario.ReportDelay.Std()
	}
	delegate.NullDays = scenario.NullReportDays
	delegate.OfflineDelay = scenario.OfflineDelay.Std()

	strategy := noise.Fixed{}
	if scenario.Noise == "never" {
		strategy = noise.Never()
	}

	r, err := resolver.New(st, cfg,
		resolver.WithClock(clock),
		resolver.WithDelegate(delegate),
		resolver.WithNoise(strategy),
		resolver.WithReportIDGenerator(testutil.NewSequenceGenerator("report")),
		resolver.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	defer r.Close()

	h := &Harness{resolver: r, clock: clock, logger: logger}
	ctx := context.Background()

	result := NewResult()
	for i, step := range scenario.Steps {
		event, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		result.AddTrace(event)
		for _, msg := range checkExpect(i, step.Expect, event) {
			result.AddError(msg)
		}

		h.logger.Debug("step completed",
			"step", i,
			"action", step.Action,
			"status", event.Status,
		)
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, r) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step. Caller mistakes reported by the resolver become
// the step status; any other error aborts the scenario.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	h.seq++
	event := TraceEvent{Seq: h.seq, Action: step.Action}

	out, status, count, err := h.dispatch(ctx, step)
	var re *resolver.Error
	if errors.As(err, &re) {
		event.Status = string(re.Code)
		return event, nil
	}
	if err != nil {
		return event, err
	}

	event.Status = status
	event.Count = count
	if out != nil {
		event.Result, err = toJSONValue(out)
		if err != nil {
			return event, err
		}
	}
	return event, nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) (any, string, *int, error) {
	r := h.resolver
	now := h.clock.Now()

	switch step.Action {
	case ActionSource:
		res, err := r.StoreSource(ctx, *step.Source)
		return res, string(res.Status), nil, err

	case ActionTrigger:
		res, err := r.MaybeCreateAndStoreReport(ctx, *step.Trigger)
		return res, triggerStatus(res), nil, err

	case ActionAdvance:
		t := h.clock.Advance(step.By.Std())
		return map[string]any{"now": t}, "", nil, nil

	case ActionReports:
		reports, err := r.GetAttributionReports(ctx, now.Add(step.Within.Std()), limitOf(step))
		return reports, "", intPtr(len(reports)), err

	case ActionSend:
		reports, err := r.GetAttributionReports(ctx, now.Add(step.Within.Std()), limitOf(step))
		if err != nil {
			return nil, "", nil, err
		}
		sent := make([]string, 0, len(reports))
		for _, rep := range reports {
			if _, err := r.DeleteReport(ctx, rep.ID); err != nil {
				return nil, "", nil, err
			}
			sent = append(sent, rep.ExternalID)
		}
		return sent, "", intPtr(len(sent)), nil

	case ActionFail:
		ok, err := r.UpdateReportForSendFailure(ctx, attribution.ReportID(step.ReportID), now.Add(step.RetryAfter.Std()))
		return map[string]any{"updated": ok}, foundStatus(ok), nil, err

	case ActionDelete:
		ok, err := r.DeleteReport(ctx, attribution.ReportID(step.ReportID))
		return map[string]any{"deleted": ok}, foundStatus(ok), nil, err

	case ActionNextReport:
		next, err := r.GetNextReportTime(ctx, now)
		return map[string]any{"next": next}, "", nil, err

	case ActionAdjustOffline:
		next, err := r.AdjustOfflineReportTimes(ctx)
		return map[string]any{"next": next}, "", nil, err

	case ActionVerify:
		counts, err := r.VerifyReports(ctx)
		return counts, "", nil, err

	case ActionSources:
		sources, err := r.GetActiveSources(ctx, limitOf(step))
		return sources, "", intPtr(len(sources)), err

	case ActionSweep:
		n, err := r.DeleteExpiredSources(ctx)
		return map[string]any{"deleted": n}, "", intPtr(n), err

	case ActionClear:
		end := step.End
		if end.IsZero() {
			end = resolver.EndOfTime
		}
		counts, err := r.ClearData(ctx, step.Begin, end, MatchOrigins(step.Origins), step.RateLimits)
		return counts, "", nil, err

	case ActionClearAll:
		counts, err := r.ClearAllDataAllTime(ctx, step.RateLimits)
		return counts, "", nil, err

	case ActionDataKeys:
		keys, err := r.GetAllDataKeys(ctx)
		return keys, "", intPtr(len(keys)), err

	case ActionDebugReport:
		var sourceID *attribution.SourceID
		if step.SourceID != nil {
			id := attribution.SourceID(*step.SourceID)
			sourceID = &id
		}
		res, err := r.ProcessAggregatableDebugReport(ctx, *step.DebugReport, step.RemainingBudget, sourceID)
		return res, string(res.Status), nil, err
	}
	return nil, "", nil, fmt.Errorf("unknown action %q", step.Action)
}

// MatchOrigins returns a matcher accepting exactly origins, or nil (match
// everything) when origins is empty.
func MatchOrigins(origins []string) resolver.OriginMatcher {
	if len(origins) == 0 {
		return nil
	}
	set := make(map[attribution.Origin]bool, len(origins))
	for _, o := range origins {
		set[attribution.Origin(o)] = true
	}
	return func(o attribution.Origin) bool { return set[o] }
}

func triggerStatus(res attribution.CreateReportResult) string {
	return fmt.Sprintf("event_level=%s aggregatable=%s", res.EventLevelStatus, res.AggregatableStatus)
}

func foundStatus(ok bool) string {
	if ok {
		return "found"
	}
	return "missing"
}

func limitOf(step Step) int {
	if step.Limit == nil {
		return -1
	}
	return *step.Limit
}

func intPtr(n int) *int {
	return &n
}

// toJSONValue round-trips v through JSON so results compare the way they
// would be serialized.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode step result: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode step result: %w", err)
	}
	return out, nil
}
