// Package ident canonicalizes platform identifiers.
//
// CSV-ish tabular stores have no types. Spreadsheet tooling routinely
// coerces digit-only identifiers to numbers and drops leading zeros, so
// "0000000001" comes back as "1". If matching is done on raw strings,
// joins silently fail (tenant not found, price not found).
//
// The rule here: storage writers persist the fixed-width display form,
// every lookup and join uses the canonical key from CanonicalKey. Two
// raw identifiers refer to the same entity iff their canonical keys are
// equal.
package ident

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fixed display widths for digit-only identifiers (repo contract).
const (
	TenantIDWidth = 10
	ModuleIDWidth = 6
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Fixed Base62 lengths for generated row identifiers.
var idLengths = map[string]int{
	"tenant_id":           6,
	"work_order_id":       8,
	"step_id":             2,
	"module_id":           3,
	"transaction_id":      8,
	"transaction_item_id": 10,
	"step_run_id":         10,
	"payment_id":          8,
}

// CanonicalKey returns the matching key for a raw identifier.
//
// The value is NFC-normalized and trimmed. Digit-only values are
// stripped of leading zeros ("007" → "7", "000" → "0"); anything else
// is preserved as the trimmed string, so prefixed identifiers like
// "wo-2025-001" pass through unchanged.
func CanonicalKey(raw string) string {
	s := strings.TrimSpace(norm.NFC.String(raw))
	if s == "" {
		return ""
	}
	if !isDigits(s) {
		return s
	}
	stripped := strings.TrimLeft(s, "0")
	if stripped == "" {
		return "0"
	}
	return stripped
}

// Match reports whether two raw identifiers refer to the same entity.
func Match(a, b string) bool {
	return CanonicalKey(a) == CanonicalKey(b)
}

// DisplayDigits returns the fixed-width display form of an identifier.
// Digit-only values are zero-padded to width after canonicalization;
// non-digit values are returned trimmed. Values already wider than
// width are returned as-is.
func DisplayDigits(raw string, width int) string {
	s := strings.TrimSpace(norm.NFC.String(raw))
	if s == "" || !isDigits(s) {
		return s
	}
	key := CanonicalKey(s)
	if len(key) >= width {
		return key
	}
	return strings.Repeat("0", width-len(key)) + key
}

// DisplayTenantID returns the storage form of a tenant identifier.
func DisplayTenantID(raw string) string {
	return DisplayDigits(raw, TenantIDWidth)
}

// DisplayModuleID returns the storage form of a module identifier.
func DisplayModuleID(raw string) string {
	return DisplayDigits(raw, ModuleIDWidth)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// NewID generates a fixed-length Base62 identifier for the given id
// type, retrying until it does not collide with the used set. The used
// set is updated with the returned value.
//
// Returns an error for unknown id types rather than guessing a length.
func NewID(idType string, used map[string]bool) (string, error) {
	n, ok := idLengths[idType]
	if !ok {
		return "", fmt.Errorf("unknown id type: %q", idType)
	}
	for {
		out, err := randomBase62(n)
		if err != nil {
			return "", fmt.Errorf("generate %s: %w", idType, err)
		}
		if used != nil {
			if used[out] {
				continue
			}
			used[out] = true
		}
		return out, nil
	}
}

func randomBase62(n int) (string, error) {
	max := big.NewInt(int64(len(base62Alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(base62Alphabet[idx.Int64()])
	}
	return b.String(), nil
}
