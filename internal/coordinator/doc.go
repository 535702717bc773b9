// Package coordinator centralises polling of a single data source so
// that many consumers can share one fetch pipeline.
//
// A Coordinator owns a fetch function, a polling cadence, and the most
// recent snapshot the fetch produced. Concurrent refresh requests are
// coalesced into a single in-flight fetch whose outcome all callers
// share. Every completed attempt, successful or not, notifies the
// registered listeners so consumers can re-read coordinator state.
//
// Failure handling is deliberately simple: the cadence is fixed (no
// backoff), the last good snapshot survives failures, and log noise is
// suppressed by demoting repeats of the same error to debug level.
package coordinator
