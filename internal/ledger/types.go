// Package ledger implements the credit ledger: an append-only record
// of signed credit movements with exactly-once posting under retries.
//
// Idempotency is structural, not best-effort: every transaction
// carries a deterministic idempotency key with a UNIQUE index, inserts
// use ON CONFLICT DO NOTHING, and a conflicting insert applies no
// balance change. Replaying an attempt's ledger posting is a no-op.
package ledger

import (
	"time"
)

// TxType classifies a ledger transaction.
type TxType string

const (
	TxSpend      TxType = "SPEND"
	TxRefund     TxType = "REFUND"
	TxTopup      TxType = "TOPUP"
	TxAdjustment TxType = "ADJUSTMENT"
)

// Category classifies a line item within a transaction.
type Category string

const (
	CatModuleRun  Category = "MODULE_RUN"
	CatUpload     Category = "UPLOAD"
	CatPromo      Category = "PROMO"
	CatDeal       Category = "DEAL"
	CatRefundNote Category = "REFUND_NOTE"
	CatOther      Category = "OTHER"
)

// Transaction is one append-only ledger row. AmountCredits follows the
// original billing convention: the magnitude of the movement, with the
// direction determined by Type (SPEND decrements the balance, REFUND
// and TOPUP increment it, ADJUSTMENT applies its signed amount).
type Transaction struct {
	ID             string
	Tenant         string
	WorkOrder      string
	Type           TxType
	AmountCredits  int64
	CreatedAt      time.Time
	IdempotencyKey string
	MetadataJSON   string
}

// LineItem belongs to exactly one transaction. Charge categories
// (MODULE_RUN, UPLOAD) carry positive amounts; PROMO and DEAL items
// are negative offsets; REFUND_NOTE is the human-readable calculation
// note and may be zero.
type LineItem struct {
	ID            string
	TransactionID string
	Name          string
	Category      Category
	AmountCredits int64
	ReasonCode    string
	StepRunID     string
	Note          string
}

// balanceDelta returns the signed effect of the transaction on the
// tenant balance.
func (t *Transaction) balanceDelta() int64 {
	switch t.Type {
	case TxSpend:
		return -t.AmountCredits
	case TxRefund, TxTopup:
		return t.AmountCredits
	case TxAdjustment:
		return t.AmountCredits
	default:
		return 0
	}
}

// TenantBalance is one row of the tenant_balances table.
type TenantBalance struct {
	Tenant    string
	Credits   int64
	UpdatedAt time.Time
	Status    string // active | suspended
}

// StepRun records the outcome of one executed step. RefundEligible
// persists the module's refund-eligibility assertion so a resumed
// attempt computes the same refund as the uncrashed one.
type StepRun struct {
	ID             string
	Tenant         string
	WorkOrder      string
	Attempt        string
	StepID         string
	ModuleID       string
	Status         string // COMPLETED | FAILED
	ReasonCode     string
	Strategy       string
	CacheKey       string
	ReleaseRef     string
	CreatedAt      time.Time
	RefundEligible bool
}

// RunState tracks an attempt through the billing state machine.
type RunState string

const (
	RunPlanned        RunState = "PLANNED"
	RunCreditChecked  RunState = "CREDIT_CHECKED"
	RunSpent          RunState = "SPENT"
	RunExecuting      RunState = "EXECUTING"
	RunRefundComputed RunState = "REFUND_COMPUTED"
	RunRefunded       RunState = "REFUNDED"
	RunTerminal       RunState = "TERMINAL"
)

var runStateSeq = map[RunState]int{
	RunPlanned:        1,
	RunCreditChecked:  2,
	RunSpent:          3,
	RunExecuting:      4,
	RunRefundComputed: 5,
	RunRefunded:       6,
	RunTerminal:       7,
}

// AtLeast reports whether s is at or past other in the attempt state
// machine. Unknown states rank below every known one.
func (s RunState) AtLeast(other RunState) bool {
	return runStateSeq[s] >= runStateSeq[other]
}

// Terminal statuses for a work order attempt.
const (
	StatusCompleted          = "COMPLETED"
	StatusPartiallyCompleted = "PARTIALLY_COMPLETED"
	StatusFailed             = "FAILED"
)

// WorkOrderRun is one row of the work_order_runs table: the durable
// checkpoint a crashed attempt resumes from.
type WorkOrderRun struct {
	WorkOrder  string
	Attempt    string
	Tenant     string
	State      RunState
	Status     string
	ReasonCode string
	StartedAt  time.Time
	EndedAt    time.Time
}

// PromoEvent records a promo redemption separately from the signed
// ledger amounts. Events are scoped per attempt.
type PromoEvent struct {
	Tenant        string
	WorkOrder     string
	Attempt       string
	PromoCode     string
	Event         string // APPLIED | REFUNDED
	AmountCredits int64
	CreatedAt     time.Time
}

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
