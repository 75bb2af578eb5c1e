package core

import "errors"

var (
	ErrJobNotFound       = errors.New("chunkorch: job not found")
	ErrChunkNotFound     = errors.New("chunkorch: chunk not found")
	ErrJobTerminal       = errors.New("chunkorch: job is in a terminal state")
	ErrJobCancelled      = errors.New("chunkorch: job is cancelled")
	ErrEmptyDocument     = errors.New("chunkorch: document has no processable content")
	ErrChunkTooLarge     = errors.New("chunkorch: chunk payload exceeds the maximum size")
	ErrNoEligibleChunks  = errors.New("chunkorch: no chunks eligible for retry")
	ErrRetryBudgetSpent  = errors.New("chunkorch: retry round budget exhausted")
	ErrChunkNotClaimable = errors.New("chunkorch: chunk not claimable by this worker")
)
