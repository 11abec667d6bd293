package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/arter97/chromium-tesla-sub003/internal/resolver"
)

// AssertionError is returned when an assertion fails. It carries the
// executed actions to help locate the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Action, event.Status)
		}
	}
	return buf.String()
}

// checkExpect compares a step outcome with its expect clause and returns
// one message per mismatch.
func checkExpect(index int, expect *ExpectClause, event TraceEvent) []string {
	if expect == nil {
		return nil
	}
	var errs []string
	if expect.Status != "" && expect.Status != event.Status {
		errs = append(errs, fmt.Sprintf("steps[%d] (%s): expected status %q, got %q",
			index, event.Action, expect.Status, event.Status))
	}
	if expect.Count != nil {
		got := "none"
		if event.Count != nil {
			got = fmt.Sprint(*event.Count)
		}
		if event.Count == nil || *event.Count != *expect.Count {
			errs = append(errs, fmt.Sprintf("steps[%d] (%s): expected count %d, got %s",
				index, event.Action, *expect.Count, got))
		}
	}
	if len(expect.Paths) > 0 {
		doc, err := json.Marshal(event.Result)
		if err != nil {
			return append(errs, fmt.Sprintf("steps[%d] (%s): encode result: %v", index, event.Action, err))
		}
		for _, msg := range matchPaths(doc, expect.Paths) {
			errs = append(errs, fmt.Sprintf("steps[%d] (%s): %s", index, event.Action, msg))
		}
	}
	return errs
}

// matchPaths checks each gjson path in want against doc. Keys are visited
// in sorted order so messages are stable.
func matchPaths(doc []byte, want map[string]any) []string {
	paths := make([]string, 0, len(want))
	for p := range want {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []string
	for _, p := range paths {
		got := gjson.GetBytes(doc, p)
		expected := want[p]
		if expected == nil {
			if got.Exists() && got.Type != gjson.Null {
				errs = append(errs, fmt.Sprintf("path %q: expected absent, got %s", p, got.Raw))
			}
			continue
		}
		if !got.Exists() {
			errs = append(errs, fmt.Sprintf("path %q: expected %v, not found", p, expected))
			continue
		}
		if !valuesEqual(got, expected) {
			errs = append(errs, fmt.Sprintf("path %q: expected %v, got %s", p, expected, got.Raw))
		}
	}
	return errs
}

// valuesEqual compares a gjson result with a YAML-decoded scalar. Numbers
// compare numerically so 3 and 3.0 agree.
func valuesEqual(got gjson.Result, expected any) bool {
	switch exp := expected.(type) {
	case bool:
		return (got.Type == gjson.True || got.Type == gjson.False) && got.Bool() == exp
	case int:
		return got.Type == gjson.Number && got.Float() == float64(exp)
	case int64:
		return got.Type == gjson.Number && got.Float() == float64(exp)
	case uint64:
		return got.Type == gjson.Number && got.Uint() == exp
	case float64:
		return got.Type == gjson.Number && got.Float() == exp
	case string:
		return got.Type == gjson.String && got.String() == exp
	default:
		data, err := json.Marshal(expected)
		if err != nil {
			return false
		}
		return gjson.ParseBytes(data).Raw == got.Raw
	}
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == assertion.Action {
			count++
		}
	}
	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the actions appear in order. Other steps
// may appear in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Actions) && event.Action == assertion.Actions[next] {
			next++
		}
	}
	if next < len(assertion.Actions) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
			Actual:   fmt.Sprintf("no %s after %v", assertion.Actions[next], assertion.Actions[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads a table through the resolver and checks its
// size and gjson paths into its JSON form.
func assertFinalState(ctx context.Context, r *resolver.Resolver, assertion Assertion) error {
	var rows any
	var n int
	switch assertion.Table {
	case TableReports:
		reports, err := r.GetAttributionReports(ctx, resolver.EndOfTime, -1)
		if err != nil {
			return fmt.Errorf("final_state: read reports: %w", err)
		}
		rows, n = reports, len(reports)
	case TableSources:
		sources, err := r.GetActiveSources(ctx, -1)
		if err != nil {
			return fmt.Errorf("final_state: read sources: %w", err)
		}
		rows, n = sources, len(sources)
	case TableDataKeys:
		keys, err := r.GetAllDataKeys(ctx)
		if err != nil {
			return fmt.Errorf("final_state: read data keys: %w", err)
		}
		rows, n = keys, len(keys)
	default:
		return fmt.Errorf("final_state: unknown table %q", assertion.Table)
	}

	if assertion.Count != nil && *assertion.Count != n {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d rows in %s", *assertion.Count, assertion.Table),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}
	doc, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("final_state: encode %s: %w", assertion.Table, err)
	}
	if errs := matchPaths(doc, assertion.Expect); len(errs) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s matches %d paths", assertion.Table, len(assertion.Expect)),
			Actual:   strings.Join(errs, "; "),
		}
	}
	return nil
}

// EvaluateAssertions evaluates every assertion and returns one message per
// failure. r is used to read the final store contents.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, r *resolver.Resolver) []string {
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertFinalState:
			if r == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a resolver", i)
			} else {
				err = assertFinalState(ctx, r, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
