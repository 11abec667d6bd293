// Package attribution defines the data model shared by the storage,
// noise and resolver layers: origins and sites, source registrations and
// their stored form, triggers, reports, filters, event-level trigger specs
// and the closed sets of result codes each operation returns.
//
// Everything here is pure. Nothing in this package performs I/O.
//
// # Filters
//
// A FilterPair is evaluated against a source's FilterData plus the implicit
// "source_type" key. Positive and negative lists are each an OR of configs;
// within a config every key present on the source must intersect (or, for
// negative configs, must not). A config's lookback window bounds the time
// between source registration and the trigger.
//
// # Time
//
// All times are wall-clock instants supplied by the caller's clock. Stored
// representations use microseconds since the Unix epoch.
package attribution
