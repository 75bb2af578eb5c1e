// Package engine orchestrates chunked jobs: it computes the chunk plan,
// creates the job and chunk rows, dispatches fan-out rounds over the worker
// pool, merges outcomes deterministically when a round's barrier fires, and
// decides whether failed chunks get another round within the retry budget.
//
// Collaborators (store, pool, broadcaster, processor) are passed in
// explicitly rather than held as process-wide globals, so tests can swap in
// doubles.
package engine
