// Package harness runs YAML scenarios against the attribution resolver.
//
// A scenario lists steps (register a source, process a trigger, advance
// the clock, list or send reports, clear data, ...) that run in order
// against a fresh in-memory store. Every source of nondeterminism is
// fixed: the clock starts at a known time and only moves on advance
// steps, external report IDs come from a counter, noise is either always
// truthful or always "never", and the delegate uses a fixed report delay
// and a reversing shuffle.
//
// Each step may carry an expect clause:
//
//	- action: trigger
//	  trigger:
//	    reporting_origin: https://report.example
//	    destination_origin: https://conversion.example
//	    event_triggers: [{trigger_data: 1}]
//	  expect:
//	    status: event_level=Success aggregatable=NotRegistered
//	    paths:
//	      new_event_level_report.event_level.trigger_data: 1
//
// Paths are gjson paths into the step result's JSON. Assertions run after
// the last step and check the trace (trace_count, trace_order) or the
// final store contents (final_state).
//
// The trace's step outcomes (action, status, count) are compared against
// golden files with goldie; see RunWithGolden.
package harness
