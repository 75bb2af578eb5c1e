// Package worker provides the ChunkWorker that executes one chunk attempt:
// it calls the external processing capability, classifies the outcome, and
// updates the chunk's own row. Failures never propagate past its boundary.
package worker
