package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/agenda-podcast/Platform/internal/ident"
)

// Idempotency keys are deterministic functions of the attempt's
// identity. Hash inputs use canonical keys so that an identifier that
// lost its leading zeros on the way in still derives the same key.

func deriveKey(prefix string, parts ...string) string {
	msg := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(msg))
	return prefix + hex.EncodeToString(sum[:])[:24]
}

// SpendKey is the idempotency key of an attempt's single SPEND
// transaction.
func SpendKey(tenant, workOrder, attempt string) string {
	return deriveKey("wo_spend_",
		ident.CanonicalKey(tenant), ident.CanonicalKey(workOrder), attempt, string(TxSpend))
}

// RefundKey is the idempotency key of an attempt's whole-order REFUND.
// The terminal status participates so a resumed attempt that reaches a
// different terminal state cannot silently reuse a stale refund row.
func RefundKey(tenant, workOrder, attempt, terminalStatus string) string {
	return deriveKey("wo_refund_",
		ident.CanonicalKey(tenant), ident.CanonicalKey(workOrder), attempt, string(TxRefund), terminalStatus)
}

// TopupKey is the idempotency key of an admin top-up, derived from the
// payment reference so re-running reconciliation cannot double-credit.
func TopupKey(tenant, methodID, paymentRef string) string {
	return deriveKey("topup_",
		ident.CanonicalKey(tenant), methodID, paymentRef, string(TxTopup))
}

// StepChargeKey names a per-step charge line item deterministically.
func StepChargeKey(tenant, workOrder, attempt, stepID, moduleID string) string {
	return deriveKey("ti_spend_run_",
		ident.CanonicalKey(tenant), ident.CanonicalKey(workOrder), attempt,
		ident.CanonicalKey(stepID), ident.CanonicalKey(moduleID))
}

// UploadChargeKey names a per-step artifact-save charge line item.
func UploadChargeKey(tenant, workOrder, attempt, stepID, moduleID string) string {
	return deriveKey("ti_spend_upload_",
		ident.CanonicalKey(tenant), ident.CanonicalKey(workOrder), attempt,
		ident.CanonicalKey(stepID), ident.CanonicalKey(moduleID))
}
