package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKeyDigitEquivalence(t *testing.T) {
	// Leading-zero variants of the same number share one key.
	for _, raw := range []string{"007", "7", "00007", " 7 ", "0000007"} {
		assert.Equal(t, "7", CanonicalKey(raw), "raw %q", raw)
	}
}

func TestCanonicalKeyAllZeros(t *testing.T) {
	assert.Equal(t, "0", CanonicalKey("000"))
	assert.Equal(t, "0", CanonicalKey("0"))
}

func TestCanonicalKeyPreservesNonDigits(t *testing.T) {
	assert.Equal(t, "wo-2025-001", CanonicalKey("  wo-2025-001 "))
	assert.Equal(t, "T42", CanonicalKey("T42"))
	assert.Equal(t, "", CanonicalKey("   "))
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("007", "7"))
	assert.True(t, Match("0000000042", "42"))
	assert.False(t, Match("42", "420"))
	assert.False(t, Match("wo-1", "wo-01"))
}

func TestDisplayForms(t *testing.T) {
	assert.Equal(t, "0000000042", DisplayTenantID("42"))
	assert.Equal(t, "0000000042", DisplayTenantID("0042"))
	assert.Equal(t, "000101", DisplayModuleID("101"))
	// Non-digit identifiers pass through.
	assert.Equal(t, "wo-1", DisplayTenantID("wo-1"))
	// Already wider than the width: unchanged.
	assert.Equal(t, "12345678901", DisplayTenantID("12345678901"))
}

func TestDisplayThenCanonicalRoundTrip(t *testing.T) {
	// Storage writes display forms; lookups must still match.
	raw := "7"
	assert.Equal(t, CanonicalKey(raw), CanonicalKey(DisplayTenantID(raw)))
}

func TestNewIDLengthAndUniqueness(t *testing.T) {
	used := map[string]bool{}
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewID("step_run_id", used)
		require.NoError(t, err)
		assert.Len(t, id, 10)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewIDUnknownType(t *testing.T) {
	_, err := NewID("nonsense", nil)
	require.Error(t, err)
}
