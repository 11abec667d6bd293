// Package resolver stores attribution sources and turns triggers into
// event-level, aggregatable and null aggregatable reports.
//
// A Resolver owns one store and is driven by a single caller at a time.
// Each exported operation is one atomic transaction. Policy outcomes are
// returned as result codes; Go errors signal infrastructure failures or
// malformed input.
//
// Randomness enters through two seams: noise.Strategy draws each source's
// randomized response, and Delegate chooses report delays, null report
// sampling and shuffling. Tests replace both to make outcomes exact.
package resolver
