// Package metrics implements the in-process security counters exposed
// through the root package. Counters are cache-line padded atomics; there is
// no export pipeline here, callers scrape snapshots.
package metrics
