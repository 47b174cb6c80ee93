package ledger

import (
	"context"
	"testing"
	"time"
)

func TestAdminTopupCreditsAndNames(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	applied, err := st.AdminTopup(ctx, Topup{
		Tenant: "42", MethodID: "stripe", PaymentRef: "pay-77", Amount: 50,
	}, testTime)
	if err != nil {
		t.Fatalf("AdminTopup() error = %v", err)
	}
	if !applied {
		t.Fatal("first topup: applied = false")
	}

	bal, err := st.Balance(ctx, "42")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.Credits != 50 {
		t.Errorf("Credits = %d, want 50", bal.Credits)
	}

	txn, found, err := st.TransactionByKey(ctx, TopupKey("42", "stripe", "pay-77"))
	if err != nil || !found {
		t.Fatalf("TransactionByKey() = found %v, err %v", found, err)
	}
	items, err := st.Items(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Name != "topup:stripe:pay-77" {
		t.Errorf("item name = %q, want topup:stripe:pay-77", items[0].Name)
	}
}

func TestAdminTopupIdempotentOnPaymentRef(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	top := Topup{Tenant: "42", MethodID: "stripe", PaymentRef: "pay-77", Amount: 50}
	if _, err := st.AdminTopup(ctx, top, testTime); err != nil {
		t.Fatalf("first topup error = %v", err)
	}
	applied, err := st.AdminTopup(ctx, top, testTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("replay topup error = %v", err)
	}
	if applied {
		t.Error("replay: applied = true, want false")
	}
	bal, _ := st.Balance(ctx, "42")
	if bal.Credits != 50 {
		t.Errorf("Credits = %d, want 50 (not double-credited)", bal.Credits)
	}

	// A different payment under the same method is a new posting.
	if _, err := st.AdminTopup(ctx, Topup{
		Tenant: "42", MethodID: "stripe", PaymentRef: "pay-78", Amount: 25,
	}, testTime); err != nil {
		t.Fatalf("second payment error = %v", err)
	}
	bal, _ = st.Balance(ctx, "42")
	if bal.Credits != 75 {
		t.Errorf("Credits = %d, want 75", bal.Credits)
	}
}

func TestAdminTopupValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cases := []Topup{
		{Tenant: "42", MethodID: "stripe", PaymentRef: "p", Amount: 0},
		{Tenant: "42", MethodID: "stripe", PaymentRef: "p", Amount: -5},
		{Tenant: "42", MethodID: "", PaymentRef: "p", Amount: 5},
		{Tenant: "42", MethodID: "stripe", PaymentRef: "", Amount: 5},
	}
	for _, top := range cases {
		if _, err := st.AdminTopup(ctx, top, testTime); err == nil {
			t.Errorf("AdminTopup(%+v) accepted, want error", top)
		}
	}
}

func TestRecomputeBalancesReplaysLedger(t *testing.T) {
	st := openTestStore(t)
	seedTenant(t, st, "42", 100)
	seedTenant(t, st, "7", 20)
	ctx := context.Background()

	spend := Transaction{
		ID: "tx-1", Tenant: "42", WorkOrder: "wo-1", Type: TxSpend,
		AmountCredits: 30, CreatedAt: testTime,
		IdempotencyKey: SpendKey("42", "wo-1", "a1"),
	}
	if _, err := st.AppendTransaction(ctx, spend, nil); err != nil {
		t.Fatalf("spend error = %v", err)
	}
	refund := Transaction{
		ID: "tx-2", Tenant: "42", WorkOrder: "wo-1", Type: TxRefund,
		AmountCredits: 10, CreatedAt: testTime.Add(time.Minute),
		IdempotencyKey: RefundKey("42", "wo-1", "a1", StatusPartiallyCompleted),
	}
	if _, err := st.AppendTransaction(ctx, refund, nil); err != nil {
		t.Fatalf("refund error = %v", err)
	}

	// Corrupt the materialized balances, then rebuild from the ledger.
	if _, err := st.DB().Exec(`UPDATE tenant_balances SET credits_available = 999`); err != nil {
		t.Fatalf("corrupt balances: %v", err)
	}
	if err := st.SetTenantStatus(ctx, "7", "suspended", testTime); err != nil {
		t.Fatalf("SetTenantStatus() error = %v", err)
	}

	if err := st.RecomputeBalances(ctx, testTime.Add(time.Hour)); err != nil {
		t.Fatalf("RecomputeBalances() error = %v", err)
	}

	bal, _ := st.Balance(ctx, "42")
	if bal.Credits != 80 {
		t.Errorf("tenant 42 = %d, want 80 (100 - 30 + 10)", bal.Credits)
	}
	bal, _ = st.Balance(ctx, "7")
	if bal.Credits != 20 {
		t.Errorf("tenant 7 = %d, want 20", bal.Credits)
	}
	if bal.Status != "suspended" {
		t.Errorf("tenant 7 status = %q, want suspended preserved", bal.Status)
	}
}
