package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// Scenario is a scripted sequence of resolver operations run against a
// fresh store with a fake clock and deterministic noise.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the initial fake clock time. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Config overrides fields of config.Default(). Only the keys present
	// are changed.
	Config yaml.Node `yaml:"config,omitempty"`

	// Noise is "truthful" (default) or "never".
	Noise string `yaml:"noise,omitempty"`

	// ReportDelay is the aggregatable report delay. Defaults to one hour.
	ReportDelay attribution.Duration `yaml:"report_delay,omitempty"`

	// NullReportDays are the lookback days that emit null reports.
	NullReportDays []int `yaml:"null_report_days,omitempty"`

	// OfflineDelay is added to overdue reports by adjust_offline steps.
	OfflineDelay attribution.Duration `yaml:"offline_delay,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one resolver operation. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	Source      *attribution.Source                  `yaml:"source,omitempty"`
	Trigger     *attribution.Trigger                 `yaml:"trigger,omitempty"`
	DebugReport *attribution.AggregatableDebugReport `yaml:"debug_report,omitempty"`

	// RemainingBudget and SourceID parameterize debug_report steps.
	RemainingBudget *int64 `yaml:"remaining_budget,omitempty"`
	SourceID        *int64 `yaml:"source_id,omitempty"`

	// By is the clock advance of an advance step.
	By attribution.Duration `yaml:"by,omitempty"`

	// Within widens reports and send steps to reports due before now+Within.
	Within attribution.Duration `yaml:"within,omitempty"`
	Limit  *int                 `yaml:"limit,omitempty"`

	ReportID   int64                `yaml:"report_id,omitempty"`
	RetryAfter attribution.Duration `yaml:"retry_after,omitempty"`

	// Begin, End, Origins and RateLimits parameterize clear steps. A zero
	// End clears to the end of time.
	Begin      time.Time `yaml:"begin,omitempty"`
	End        time.Time `yaml:"end,omitempty"`
	Origins    []string  `yaml:"origins,omitempty"`
	RateLimits bool      `yaml:"rate_limits,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks a step's outcome. Paths are gjson paths into the
// step result's JSON; each must resolve to the given value, or be absent
// when the value is null.
type ExpectClause struct {
	Status string         `yaml:"status,omitempty"`
	Count  *int           `yaml:"count,omitempty"`
	Paths  map[string]any `yaml:"paths,omitempty"`
}

// Assertion validates the trace or the final store contents.
type Assertion struct {
	// Type is one of trace_count, trace_order or final_state.
	Type string `yaml:"type"`

	// Action is counted by trace_count.
	Action string `yaml:"action,omitempty"`
	Count  *int   `yaml:"count,omitempty"`

	// Actions must appear in this order for trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Table is reports, sources or data_keys for final_state. Expect
	// holds gjson paths into the table's JSON array.
	Table  string         `yaml:"table,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionSource        = "source"
	ActionTrigger       = "trigger"
	ActionAdvance       = "advance"
	ActionReports       = "reports"
	ActionSend          = "send"
	ActionFail          = "fail"
	ActionDelete        = "delete"
	ActionNextReport    = "next_report_time"
	ActionAdjustOffline = "adjust_offline"
	ActionVerify        = "verify"
	ActionSources       = "sources"
	ActionSweep         = "sweep"
	ActionClear         = "clear"
	ActionClearAll      = "clear_all"
	ActionDataKeys      = "data_keys"
	ActionDebugReport   = "debug_report"
)

// Assertion types.
const (
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertFinalState = "final_state"
)

// Final state tables.
const (
	TableReports  = "reports"
	TableSources  = "sources"
	TableDataKeys = "data_keys"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Noise {
	case "", "truthful", "never":
	default:
		return fmt.Errorf("unknown noise %q: must be truthful or never", s.Noise)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionSource:
		if s.Source == nil {
			return fmt.Errorf("steps[%d]: source is required for %s", index, s.Action)
		}
	case ActionTrigger:
		if s.Trigger == nil {
			return fmt.Errorf("steps[%d]: trigger is required for %s", index, s.Action)
		}
	case ActionDebugReport:
		if s.DebugReport == nil {
			return fmt.Errorf("steps[%d]: debug_report is required for %s", index, s.Action)
		}
	case ActionAdvance:
		if s.By <= 0 {
			return fmt.Errorf("steps[%d]: by must be positive for %s", index, s.Action)
		}
	case ActionFail, ActionDelete:
		if s.ReportID <= 0 {
			return fmt.Errorf("steps[%d]: report_id is required for %s", index, s.Action)
		}
	case ActionReports, ActionSend, ActionNextReport, ActionAdjustOffline, ActionVerify,
		ActionSources, ActionSweep, ActionClear, ActionClearAll, ActionDataKeys:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableReports, TableSources, TableDataKeys:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if a.Count == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: count or expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
