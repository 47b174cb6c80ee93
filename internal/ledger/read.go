package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agenda-podcast/Platform/internal/ident"
)

// Balance returns the tenant balance row. ErrTenantUnknown if absent.
func (s *Store) Balance(ctx context.Context, tenant string) (TenantBalance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, credits_available, updated_at, status
		FROM tenant_balances WHERE tenant_id = ?
	`, ident.DisplayTenantID(tenant))

	var tb TenantBalance
	var updated string
	if err := row.Scan(&tb.Tenant, &tb.Credits, &updated, &tb.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TenantBalance{}, fmt.Errorf("%w: %s", ErrTenantUnknown, tenant)
		}
		return TenantBalance{}, fmt.Errorf("read balance: %w", err)
	}
	tb.UpdatedAt = parseTime(updated)
	return tb, nil
}

// TransactionByKey returns the transaction with the given idempotency
// key, or found=false.
func (s *Store) TransactionByKey(ctx context.Context, idempotencyKey string) (Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, tenant_id, work_order_id, type, amount_credits, created_at, idempotency_key, metadata_json
		FROM transactions WHERE idempotency_key = ?
	`, idempotencyKey)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return txn, true, nil
}

// WorkOrderTransactions returns all transactions for a work order in
// deterministic order (created_at, then id, binary collation).
func (s *Store) WorkOrderTransactions(ctx context.Context, workOrder string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, tenant_id, work_order_id, type, amount_credits, created_at, idempotency_key, metadata_json
		FROM transactions
		WHERE work_order_id = ?
		ORDER BY created_at ASC, transaction_id COLLATE BINARY ASC
	`, workOrder)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// Items returns the line items of a transaction in deterministic order.
func (s *Store) Items(ctx context.Context, transactionID string) ([]LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_item_id, transaction_id, name, category, amount_credits, reason_code, step_run_id, note
		FROM transaction_items
		WHERE transaction_id = ?
		ORDER BY transaction_item_id COLLATE BINARY ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	out := []LineItem{}
	for rows.Next() {
		var it LineItem
		var cat string
		if err := rows.Scan(&it.ID, &it.TransactionID, &it.Name, &cat, &it.AmountCredits, &it.ReasonCode, &it.StepRunID, &it.Note); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Category = Category(cat)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

// StepRuns returns the recorded step runs for an attempt in
// deterministic order.
func (s *Store) StepRuns(ctx context.Context, workOrder, attempt string) ([]StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_run_id, tenant_id, work_order_id, attempt, step_id, module_id,
		       status, reason_code, strategy, cache_key, release_ref, created_at, refund_eligible
		FROM step_runs
		WHERE work_order_id = ? AND attempt = ?
		ORDER BY created_at ASC, step_run_id COLLATE BINARY ASC
	`, workOrder, attempt)
	if err != nil {
		return nil, fmt.Errorf("query step runs: %w", err)
	}
	defer rows.Close()

	out := []StepRun{}
	for rows.Next() {
		var sr StepRun
		var created string
		if err := rows.Scan(&sr.ID, &sr.Tenant, &sr.WorkOrder, &sr.Attempt, &sr.StepID, &sr.ModuleID,
			&sr.Status, &sr.ReasonCode, &sr.Strategy, &sr.CacheKey, &sr.ReleaseRef, &created, &sr.RefundEligible); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		sr.CreatedAt = parseTime(created)
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step runs: %w", err)
	}
	return out, nil
}

// Run returns the attempt checkpoint row, or found=false.
func (s *Store) Run(ctx context.Context, workOrder, attempt string) (WorkOrderRun, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT work_order_id, attempt, tenant_id, state, status, reason_code, started_at, ended_at
		FROM work_order_runs WHERE work_order_id = ? AND attempt = ?
	`, workOrder, attempt)

	var run WorkOrderRun
	var state, started, ended string
	err := row.Scan(&run.WorkOrder, &run.Attempt, &run.Tenant, &state, &run.Status, &run.ReasonCode, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkOrderRun{}, false, nil
	}
	if err != nil {
		return WorkOrderRun{}, false, fmt.Errorf("read run: %w", err)
	}
	run.State = RunState(state)
	run.StartedAt = parseTime(started)
	run.EndedAt = parseTime(ended)
	return run, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var txn Transaction
	var typ, created string
	if err := row.Scan(&txn.ID, &txn.Tenant, &txn.WorkOrder, &typ, &txn.AmountCredits, &created, &txn.IdempotencyKey, &txn.MetadataJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, sql.ErrNoRows
		}
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	txn.Type = TxType(typ)
	txn.CreatedAt = parseTime(created)
	return txn, nil
}
