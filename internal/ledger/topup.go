package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenda-podcast/Platform/internal/ident"
)

// Topup describes one administrative credit grant tied to an external
// payment reference.
type Topup struct {
	Tenant     string
	MethodID   string
	PaymentRef string
	Amount     int64
	Note       string
}

// AdminTopup posts a TOPUP transaction for the tenant, creating the
// balance row first if needed. The idempotency key derives from the
// payment reference, so replaying the same reconciliation batch cannot
// double-credit. Returns inserted=false when the payment was already
// posted.
func (s *Store) AdminTopup(ctx context.Context, t Topup, now time.Time) (bool, error) {
	if t.Amount <= 0 {
		return false, fmt.Errorf("admin topup: amount must be positive, got %d", t.Amount)
	}
	if t.MethodID == "" || t.PaymentRef == "" {
		return false, fmt.Errorf("admin topup: method and payment reference are required")
	}

	if err := s.EnsureTenant(ctx, t.Tenant, now); err != nil {
		return false, err
	}

	txn := Transaction{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Tenant:         t.Tenant,
		Type:           TxTopup,
		AmountCredits:  t.Amount,
		CreatedAt:      now,
		IdempotencyKey: TopupKey(t.Tenant, t.MethodID, t.PaymentRef),
	}
	items := []LineItem{{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TransactionID: txn.ID,
		Name:          fmt.Sprintf("topup:%s:%s", t.MethodID, t.PaymentRef),
		Category:      CatOther,
		AmountCredits: t.Amount,
		Note:          t.Note,
	}}

	inserted, err := s.AppendTransaction(ctx, txn, items)
	if err != nil {
		return false, fmt.Errorf("admin topup %s: %w", ident.DisplayTenantID(t.Tenant), err)
	}
	return inserted, nil
}
