// Package noise implements randomized response for event-level reports.
//
// At registration a source's possible event-level outputs are counted with
// a stars-and-bars encoding: every combination of up to max-reports reports
// over (trigger data x report window) buckets is one state. With
// probability Rate the source answers with a uniformly random state instead
// of the truth. The resulting fake reports are stored up front and the
// source never produces real event-level reports.
package noise
