// Package sweep detects chunks stuck in processing past a grace period,
// usually the remains of a crashed worker, fails them as retry-eligible
// system errors, and hands the affected jobs back to the engine for a
// retry decision.
package sweep
