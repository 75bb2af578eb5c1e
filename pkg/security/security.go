package security

import (
	"strings"
	"unicode/utf8"
)

// Security limits and configuration
const (
	// MaxChunkPayloadSize is the maximum size in bytes for one chunk payload (1MB)
	MaxChunkPayloadSize = 1 << 20

	// MaxRetries is the hard limit for per-chunk retry attempts
	MaxRetries = 100

	// MaxRetryRounds is the hard limit for retry rounds per job
	MaxRetryRounds = 20

	// MaxConcurrency is the hard limit for worker pool size
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxStepLength is the maximum length for the user-facing step label
	MaxStepLength = 255
)

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// TruncateStep clamps a step label to the storable length
func TruncateStep(step string) string {
	if utf8.RuneCountInString(step) <= MaxStepLength {
		return step
	}
	runes := []rune(step)
	return string(runes[:MaxStepLength])
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampRetryRounds ensures the retry round budget is within limits
func ClampRetryRounds(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetryRounds {
		return MaxRetryRounds
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampPercent keeps a progress percentage in [0, 100]
func ClampPercent(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
