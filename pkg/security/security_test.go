package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "connection refused", "connection refused"},
		{"null bytes stripped", "bad\x00input", "badinput"},
		{"control chars stripped", "a\x01b\x02c\x7fd", "abcd"},
		{"whitespace kept", "line1\nline2\ttab\rret", "line1\nline2\ttab\rret"},
		{"unicode kept", "päivitys epäonnistui", "päivitys epäonnistui"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeErrorMessage(tt.input))
		})
	}
}

func TestSanitizeErrorMessageTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxErrorMessageLength+100)
	got := SanitizeErrorMessage(long)
	assert.Equal(t, MaxErrorMessageLength, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateStep(t *testing.T) {
	assert.Equal(t, "short", TruncateStep("short"))

	long := strings.Repeat("s", MaxStepLength+10)
	assert.Equal(t, MaxStepLength, len([]rune(TruncateStep(long))))
}

func TestClamps(t *testing.T) {
	assert.Equal(t, 0, ClampRetries(-1))
	assert.Equal(t, 5, ClampRetries(5))
	assert.Equal(t, MaxRetries, ClampRetries(MaxRetries+1))

	assert.Equal(t, 0, ClampRetryRounds(-3))
	assert.Equal(t, MaxRetryRounds, ClampRetryRounds(MaxRetryRounds*2))

	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 16, ClampConcurrency(16))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(MaxConcurrency+500))

	assert.Equal(t, 0, ClampPercent(-10))
	assert.Equal(t, 100, ClampPercent(250))
	assert.Equal(t, 42, ClampPercent(42))
}
