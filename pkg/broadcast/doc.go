// Package broadcast publishes progress snapshots to subscribers grouped by
// job id ("rooms"). Delivery is best-effort: a snapshot is dropped rather
// than block a publisher on a slow subscriber, and subscriber channels are
// never closed.
package broadcast
