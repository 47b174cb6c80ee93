// Package engine drives one work-order attempt through the billing
// state machine: plan, credit check, spend, execute, refund.
//
// Every durable effect is idempotent. Ledger postings carry
// deterministic keys, step runs and the attempt checkpoint insert with
// conflict no-ops, so a crashed attempt can be re-invoked and resumes
// from the last durably recorded state without double-charging.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agenda-podcast/Platform/internal/artifact"
	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/ledger"
	"github.com/agenda-podcast/Platform/internal/plan"
	"github.com/agenda-podcast/Platform/internal/reason"
	"github.com/agenda-podcast/Platform/internal/reuse"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// Engine executes work-order attempts. All ledger and cache-index
// mutations flow through the single-writer store, which serializes
// balance arithmetic per tenant.
type Engine struct {
	store     *ledger.Store
	governor  *cache.Governor
	resolver  *reuse.Resolver
	artifacts artifact.Store
	runner    Runner
	outDir    string
	logger    *slog.Logger
	now       func() time.Time
}

func New(store *ledger.Store, governor *cache.Governor, resolver *reuse.Resolver, artifacts artifact.Store, runner Runner, outDir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		governor:  governor,
		resolver:  resolver,
		artifacts: artifacts,
		runner:    runner,
		outDir:    outDir,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// StepOutcome is the per-step breakdown of an attempt.
type StepOutcome struct {
	StepID     string              `json:"step_id"`
	ModuleID   string              `json:"module_id"`
	Status     string              `json:"status"`
	ReasonCode string              `json:"reason_code,omitempty"`
	Strategy   workorder.Strategy  `json:"strategy"`
	Executed   bool                `json:"executed"`
}

// Result is the terminal outcome of one attempt.
type Result struct {
	WorkOrder   string        `json:"work_order_id"`
	Attempt     string        `json:"attempt"`
	Tenant      string        `json:"tenant_id"`
	Status      string        `json:"status"`
	ReasonCode  string        `json:"reason_code,omitempty"`
	SpendTotal  int64         `json:"spend_total"`
	RefundTotal int64         `json:"refund_total"`
	Steps       []StepOutcome `json:"steps"`
	Replayed    bool          `json:"replayed,omitempty"`
}

// stepPlan is the priced, gated view of one planned step.
type stepPlan struct {
	step       *workorder.Step
	contract   catalog.ModuleContract
	kind       catalog.StepKind
	runPrice   int64
	savePrice  int64 // charged only when publish is true
	publish    bool
	publishErr error // purchased artifacts that cannot be published
}

func (p *stepPlan) charge() int64 { return p.runPrice + p.savePrice }

// NewAttempt returns a fresh attempt token. UUIDv7 keeps tokens
// time-ordered in the run log.
func NewAttempt() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Execute runs one attempt of a work order against a frozen catalog
// snapshot. Re-invoking a terminal attempt returns the recorded result
// without touching the ledger.
func (e *Engine) Execute(ctx context.Context, snap *catalog.Snapshot, wo *workorder.WorkOrder, attempt string) (*Result, error) {
	if attempt == "" {
		attempt = NewAttempt()
	}
	tenant := wo.Tenant
	now := e.now()

	if err := artifact.CheckStructure(wo, snap, e.logger); err != nil {
		return nil, validationErr(wo.ID, tenant, err)
	}

	plans, moduleDeps, err := e.pricePlan(snap, wo)
	if err != nil {
		return nil, validationErr(wo.ID, tenant, err)
	}
	ordered, err := plan.Order(wo, moduleDeps)
	if err != nil {
		return nil, validationErr(wo.ID, tenant, err)
	}

	var cur ledger.RunState
	if run, found, err := e.store.Run(ctx, wo.ID, attempt); err != nil {
		return nil, internalErr(wo.ID, tenant, "read attempt checkpoint", err)
	} else if found {
		if run.State == ledger.RunTerminal {
			return e.replayResult(ctx, wo, attempt, run)
		}
		cur = run.State
	}

	// advance moves the durable checkpoint forward. A resumed attempt
	// never rewrites a state at or below the recorded one, so the row
	// only ever moves forward through the state machine.
	advance := func(state ledger.RunState, status, reasonCode string, when time.Time) error {
		if cur.AtLeast(state) {
			return nil
		}
		if err := e.checkpoint(ctx, wo, attempt, state, status, reasonCode, when); err != nil {
			return err
		}
		cur = state
		return nil
	}

	if err := advance(ledger.RunPlanned, "", "", now); err != nil {
		return nil, err
	}

	// Promo deals, in apply order, truncated so the applied total never
	// exceeds the gross charge.
	var gross int64
	byStep := map[string]*stepPlan{}
	for i := range plans {
		gross += plans[i].charge()
		byStep[ident.CanonicalKey(plans[i].step.ID)] = &plans[i]
	}
	promos, err := e.applyDeals(snap, wo, gross)
	if err != nil {
		return nil, validationErr(wo.ID, tenant, err)
	}
	var dealsApplied int64
	for _, p := range promos {
		dealsApplied += p.Amount
	}
	net := gross - dealsApplied

	reasons := snap.Reasons()
	usedIDs := map[string]bool{}

	// The credit check only guards the first posting of the SPEND. Once
	// the SPEND is durably posted the balance is already decremented,
	// so re-checking on resume would double-count the charge and could
	// strand it without a refund.
	spendPosted := cur.AtLeast(ledger.RunSpent)
	if !spendPosted {
		_, found, err := e.store.TransactionByKey(ctx, ledger.SpendKey(tenant, wo.ID, attempt))
		if err != nil {
			return nil, internalErr(wo.ID, tenant, "read spend transaction", err)
		}
		spendPosted = found
	}

	if spendPosted {
		e.logger.Info("spend already posted, skipping credit check",
			"work_order", wo.ID, "attempt", attempt, "state", string(cur))
	} else {
		bal, err := e.store.Balance(ctx, tenant)
		if err != nil {
			if errors.Is(err, ledger.ErrTenantUnknown) {
				return nil, validationErr(wo.ID, tenant, err)
			}
			return nil, internalErr(wo.ID, tenant, "read balance", err)
		}
		if bal.Status != "active" {
			return nil, validationErr(wo.ID, tenant, fmt.Errorf("tenant %s is %s", tenant, bal.Status))
		}

		if bal.Credits < net {
			code, cerr := reasons.CodeForSlug(reason.SlugNotEnoughCredits)
			if cerr != nil {
				return nil, internalErr(wo.ID, tenant, "resolve reason", cerr)
			}
			if err := advance(ledger.RunTerminal, ledger.StatusFailed, string(code), now); err != nil {
				return nil, err
			}
			e.logger.Info("credit check failed, no spend posted",
				"work_order", wo.ID, "attempt", attempt, "balance", bal.Credits, "required", net)
			res := &Result{WorkOrder: wo.ID, Attempt: attempt, Tenant: tenant, Status: ledger.StatusFailed, ReasonCode: string(code)}
			return res, &RuntimeError{
				Code:      CodeInsufficientCredits,
				Message:   fmt.Sprintf("balance %d, required %d", bal.Credits, net),
				WorkOrder: wo.ID,
				Tenant:    tenant,
			}
		}
		if err := advance(ledger.RunCreditChecked, "", "", now); err != nil {
			return nil, err
		}
	}

	if !cur.AtLeast(ledger.RunSpent) {
		if err := e.postSpend(ctx, wo, attempt, plans, promos, net, usedIDs, now); err != nil {
			return nil, err
		}
		if err := advance(ledger.RunSpent, "", "", now); err != nil {
			return nil, err
		}
	}
	if err := advance(ledger.RunExecuting, "", "", now); err != nil {
		return nil, err
	}

	outcomes, failedCharges, audits, err := e.runSteps(ctx, snap, wo, attempt, ordered, byStep, usedIDs)
	if err != nil {
		return nil, err
	}

	if err := advance(ledger.RunRefundComputed, "", "", now); err != nil {
		return nil, err
	}
	calc := ledger.ComputeRefund(failedCharges, promos)
	status, statusReason := reduceStatus(wo.Mode, len(ordered), outcomes)

	if err := e.postRefund(ctx, wo, attempt, status, calc, audits, usedIDs); err != nil {
		return nil, err
	}
	if err := advance(ledger.RunRefunded, "", "", e.now()); err != nil {
		return nil, err
	}
	if err := advance(ledger.RunTerminal, status, statusReason, e.now()); err != nil {
		return nil, err
	}

	e.logger.Info("attempt terminal",
		"work_order", wo.ID, "attempt", attempt, "status", status,
		"spend", net, "refund", calc.Refund)

	return &Result{
		WorkOrder:   wo.ID,
		Attempt:     attempt,
		Tenant:      tenant,
		Status:      status,
		ReasonCode:  statusReason,
		SpendTotal:  net,
		RefundTotal: calc.Refund,
		Steps:       outcomes,
	}, nil
}

// pricePlan resolves every enabled step's contract, publication gate
// and prices, and collects module-level dependency declarations for
// the planner.
func (e *Engine) pricePlan(snap *catalog.Snapshot, wo *workorder.WorkOrder) ([]stepPlan, map[string][]string, error) {
	var plans []stepPlan
	moduleDeps := map[string][]string{}
	for i := range wo.Steps {
		s := &wo.Steps[i]
		if !s.IsEnabled() {
			continue
		}
		mc, err := snap.Module(s.Module)
		if err != nil {
			return nil, nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
		moduleDeps[ident.CanonicalKey(s.Module)] = mc.DependsOn

		kind := mc.Kind
		if s.Kind != "" {
			kind = catalog.StepKind(s.Kind)
		}

		sp := stepPlan{step: s, contract: mc, kind: kind, runPrice: mc.RunPrice}
		publish, perr := artifact.ShouldPublish(mc, snap.ArtifactsDisabled(s.Module), s.PurchaseArtifacts)
		sp.publish = publish
		sp.publishErr = perr
		if publish {
			sp.savePrice = mc.ArtifactSavePrice
		}
		plans = append(plans, sp)
	}
	return plans, moduleDeps, nil
}

// applyDeals resolves the order's promo codes into applied discounts,
// in apply order, truncating so the total never exceeds gross.
func (e *Engine) applyDeals(snap *catalog.Snapshot, wo *workorder.WorkOrder, gross int64) ([]ledger.PromoApplied, error) {
	var out []ledger.PromoApplied
	remaining := gross
	for _, code := range wo.PromoCodes {
		d, ok := snap.Deal(code)
		if !ok {
			return nil, fmt.Errorf("unknown promo code %q", code)
		}
		amount := d.Amount
		if amount > remaining {
			amount = remaining
		}
		if amount <= 0 {
			e.logger.Warn("promo code fully absorbed, applying zero", "work_order", wo.ID, "promo", code)
			continue
		}
		out = append(out, ledger.PromoApplied{Code: code, Amount: amount})
		remaining -= amount
	}
	return out, nil
}

// postSpend posts the attempt's single SPEND transaction: one charge
// item per step, one negative item per applied promo. Idempotent by
// key; a replay leaves the balance alone.
func (e *Engine) postSpend(ctx context.Context, wo *workorder.WorkOrder, attempt string, plans []stepPlan, promos []ledger.PromoApplied, net int64, usedIDs map[string]bool, now time.Time) error {
	var items []ledger.LineItem
	for i := range plans {
		p := &plans[i]
		items = append(items, ledger.LineItem{
			ID:            ledger.StepChargeKey(wo.Tenant, wo.ID, attempt, p.step.ID, p.contract.ID),
			Name:          fmt.Sprintf("run:%s:%s", p.step.ID, ident.DisplayModuleID(p.contract.ID)),
			Category:      ledger.CatModuleRun,
			AmountCredits: p.runPrice,
		})
		if p.publish {
			items = append(items, ledger.LineItem{
				ID:            ledger.UploadChargeKey(wo.Tenant, wo.ID, attempt, p.step.ID, p.contract.ID),
				Name:          fmt.Sprintf("upload:%s:%s", p.step.ID, ident.DisplayModuleID(p.contract.ID)),
				Category:      ledger.CatUpload,
				AmountCredits: p.savePrice,
			})
		}
	}
	for _, promo := range promos {
		id, err := ident.NewID("transaction_item_id", usedIDs)
		if err != nil {
			return internalErr(wo.ID, wo.Tenant, "generate item id", err)
		}
		items = append(items, ledger.LineItem{
			ID:            id,
			Name:          "deal:" + promo.Code,
			Category:      ledger.CatDeal,
			AmountCredits: -promo.Amount,
		})
	}

	txn := ledger.Transaction{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Tenant:         wo.Tenant,
		WorkOrder:      wo.ID,
		Type:           ledger.TxSpend,
		AmountCredits:  net,
		CreatedAt:      now,
		IdempotencyKey: ledger.SpendKey(wo.Tenant, wo.ID, attempt),
	}
	inserted, err := e.store.AppendTransaction(ctx, txn, items)
	if err != nil {
		if errors.Is(err, ledger.ErrBalanceUnderflow) {
			return internalErr(wo.ID, wo.Tenant, "balance underflow posting spend", err)
		}
		return internalErr(wo.ID, wo.Tenant, "post spend", err)
	}
	if !inserted {
		e.logger.Info("spend already posted, replay no-op", "work_order", wo.ID, "attempt", attempt)
	}

	for _, promo := range promos {
		err := e.store.RecordPromoEvent(ctx, ledger.PromoEvent{
			Tenant:        wo.Tenant,
			WorkOrder:     wo.ID,
			Attempt:       attempt,
			PromoCode:     promo.Code,
			Event:         "APPLIED",
			AmountCredits: promo.Amount,
			CreatedAt:     now,
		})
		if err != nil {
			return internalErr(wo.ID, wo.Tenant, "record promo event", err)
		}
	}
	return nil
}

// runSteps drives the planned steps in order, recording one StepRun
// per step. Returns the per-step outcomes, the refundable failed
// charges and the zero-credit audit items for the refund posting.
func (e *Engine) runSteps(ctx context.Context, snap *catalog.Snapshot, wo *workorder.WorkOrder, attempt string, ordered []*workorder.Step, byStep map[string]*stepPlan, usedIDs map[string]bool) ([]StepOutcome, []ledger.FailedCharge, []ledger.LineItem, error) {
	recorded, err := e.store.StepRuns(ctx, wo.ID, attempt)
	if err != nil {
		return nil, nil, nil, internalErr(wo.ID, wo.Tenant, "read step runs", err)
	}
	recordedByStep := map[string]ledger.StepRun{}
	for _, sr := range recorded {
		recordedByStep[ident.CanonicalKey(sr.StepID)] = sr
	}

	reasons := snap.Reasons()
	var outcomes []StepOutcome
	var failedCharges []ledger.FailedCharge
	var audits []ledger.LineItem

	for _, step := range ordered {
		key := ident.CanonicalKey(step.ID)
		sp := byStep[key]

		if prev, ok := recordedByStep[key]; ok {
			// Resumed attempt: the first durably recorded outcome is
			// authoritative.
			outcomes = append(outcomes, StepOutcome{
				StepID: step.ID, ModuleID: sp.contract.ID,
				Status: prev.Status, ReasonCode: prev.ReasonCode,
				Strategy: workorder.Strategy(prev.Strategy),
			})
			if prev.Status == ledger.StatusFailed {
				e.collectRefundable(reasons, sp, reason.Code(prev.ReasonCode), workorder.Strategy(prev.Strategy), prev.RefundEligible, &failedCharges)
				if wo.Mode == workorder.Strict {
					break
				}
			}
			continue
		}

		outcome, refundOK, audit, err := e.runStep(ctx, snap, wo, attempt, step, sp)
		if err != nil {
			return nil, nil, nil, err
		}

		srID, err := ident.NewID("step_run_id", usedIDs)
		if err != nil {
			return nil, nil, nil, internalErr(wo.ID, wo.Tenant, "generate step run id", err)
		}
		sr := ledger.StepRun{
			ID:             srID,
			Tenant:         wo.Tenant,
			WorkOrder:      wo.ID,
			Attempt:        attempt,
			StepID:         step.ID,
			ModuleID:       sp.contract.ID,
			Status:         outcome.Status,
			ReasonCode:     outcome.ReasonCode,
			Strategy:       string(outcome.Strategy),
			CacheKey:       outcome.cacheKey,
			ReleaseRef:     outcome.releaseRef,
			CreatedAt:      e.now(),
			RefundEligible: refundOK,
		}
		if err := e.store.WriteStepRun(ctx, sr); err != nil {
			return nil, nil, nil, internalErr(wo.ID, wo.Tenant, "write step run", err)
		}
		outcomes = append(outcomes, outcome.StepOutcome)
		if audit != nil {
			audits = append(audits, *audit)
		}

		if outcome.Status == ledger.StatusFailed {
			e.collectRefundable(reasons, sp, reason.Code(outcome.ReasonCode), outcome.Strategy, refundOK, &failedCharges)
			if wo.Mode == workorder.Strict {
				e.logger.Info("strict mode, stopping after failed step",
					"work_order", wo.ID, "step", step.ID)
				break
			}
		}
	}
	return outcomes, failedCharges, audits, nil
}

// stepResult is runStep's internal outcome, carrying the references
// recorded on the StepRun.
type stepResult struct {
	StepOutcome
	cacheKey   string
	releaseRef string
}

// runStep resolves reuse and, when the verdict is execute, runs the
// module and applies outcome classification, cache registration and
// artifact publication. refundOK carries the delivery-kind refund
// eligibility assertion.
func (e *Engine) runStep(ctx context.Context, snap *catalog.Snapshot, wo *workorder.WorkOrder, attempt string, step *workorder.Step, sp *stepPlan) (stepResult, bool, *ledger.LineItem, error) {
	reasons := snap.Reasons()
	now := e.now()

	decision, err := e.resolver.Resolve(ctx, snap, wo.Tenant, step, sp.contract, now)
	if err != nil {
		return stepResult{}, false, nil, internalErr(wo.ID, wo.Tenant, fmt.Sprintf("resolve reuse for step %s", step.ID), err)
	}

	res := stepResult{
		StepOutcome: StepOutcome{StepID: step.ID, ModuleID: sp.contract.ID, Strategy: decision.Strategy},
		cacheKey:    decision.CacheKey,
		releaseRef:  decision.ReleaseRef,
	}

	switch decision.Outcome {
	case reuse.OutcomeCacheHit, reuse.OutcomeDenied:
		code, err := reasons.CodeForSlug(decision.FailSlug)
		if err != nil {
			return stepResult{}, false, nil, internalErr(wo.ID, wo.Tenant, "resolve reason", err)
		}
		res.Status = ledger.StatusFailed
		res.ReasonCode = string(code)
		return res, true, nil, nil

	case reuse.OutcomeReuseRelease, reuse.OutcomeReuseAssets:
		res.Status = ledger.StatusCompleted
		return res, false, nil, nil
	}

	// Fresh execution. A purchased-but-impossible artifact gate fails
	// the step before the module runs.
	res.Executed = true
	if sp.publishErr != nil {
		code, err := reasons.CodeForSlug(reason.SlugArtifactGate)
		if err != nil {
			return stepResult{}, false, nil, internalErr(wo.ID, wo.Tenant, "resolve reason", err)
		}
		e.logger.Warn("artifact purchase cannot be honored, failing step",
			"work_order", wo.ID, "step", step.ID, "detail", sp.publishErr.Error())
		res.Status = ledger.StatusFailed
		res.ReasonCode = string(code)
		return res, true, nil, nil
	}

	runRes, runErr := e.runner.Run(ctx, RunRequest{
		Tenant:    wo.Tenant,
		WorkOrder: wo.ID,
		Attempt:   attempt,
		Step:      step,
		Contract:  sp.contract,
		OutDir:    e.outDir,
	})

	code, pol, err := e.classify(reasons, runRes, runErr)
	if err != nil {
		return stepResult{}, false, nil, internalErr(wo.ID, wo.Tenant, fmt.Sprintf("classify step %s outcome", step.ID), err)
	}
	res.ReasonCode = string(code)
	if pol.Fail {
		res.Status = ledger.StatusFailed
		return res, runRes.RefundEligible, nil, nil
	}
	res.Status = ledger.StatusCompleted

	if decision.CacheKey != "" && sp.contract.CacheEnabled {
		retention := cache.EffectiveRetention(sp.contract, step.RetentionDays)
		_, err := e.governor.Register(ctx, cache.Entry{
			CacheKey:  decision.CacheKey,
			Tenant:    wo.Tenant,
			ModuleID:  sp.contract.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(retention),
		})
		if err != nil {
			return stepResult{}, false, nil, internalErr(wo.ID, wo.Tenant, "register cache entry", err)
		}
	}

	var audit *ledger.LineItem
	if sp.publish {
		tag := fmt.Sprintf("%s-%s", wo.ID, step.ID)
		manifest, err := e.artifacts.Publish(ctx, artifact.Manifest{
			Tenant:    wo.Tenant,
			WorkOrder: wo.ID,
			Tag:       tag,
		}, runRes.Artifacts)
		if err != nil {
			e.logger.Warn("artifact publication failed", "work_order", wo.ID, "step", step.ID, "error", err)
			mcode, merr := reasons.CodeForSlug(reason.SlugModuleFailed)
			if merr != nil {
				return stepResult{}, false, nil, internalErr(wo.ID, wo.Tenant, "resolve reason", merr)
			}
			res.Status = ledger.StatusFailed
			res.ReasonCode = string(mcode)
			return res, true, nil, nil
		}
		res.releaseRef = manifest.Tag
		// Zero-credit audit trail: delivery evidence rides the REFUND
		// transaction so every published release is ledger-visible.
		audit = &ledger.LineItem{
			ID:            ledger.UploadChargeKey(wo.Tenant, wo.ID, attempt, step.ID, sp.contract.ID) + "_ev",
			Name:          "delivery_evidence:" + step.ID,
			Category:      ledger.CatOther,
			AmountCredits: 0,
			Note:          fmt.Sprintf("published release %s (%d items)", manifest.Tag, len(manifest.Items)),
		}
	}
	return res, runRes.RefundEligible, audit, nil
}

// classify maps a module run outcome to its reason code and policy.
// No reason at all means clean completion with a non-failing zero
// policy.
func (e *Engine) classify(reasons *reason.Resolver, res RunResult, runErr error) (reason.Code, reason.Policy, error) {
	switch {
	case runErr != nil:
		code, err := reasons.CodeForSlug(reason.SlugModuleFailed)
		if err != nil {
			return "", reason.Policy{}, err
		}
		pol, err := reasons.Lookup(code)
		return code, pol, err
	case res.ReasonCode != "":
		pol, err := reasons.Lookup(res.ReasonCode)
		return res.ReasonCode, pol, err
	case res.ReasonSlug != "":
		code, err := reasons.CodeForSlug(res.ReasonSlug)
		if err != nil {
			return "", reason.Policy{}, err
		}
		pol, err := reasons.Lookup(code)
		return code, pol, err
	default:
		return "", reason.Policy{}, nil
	}
}

// collectRefundable adds a failed step's charges to the refund basis
// when its reason policy permits. Delivery-kind steps additionally
// require the module's own refund-eligibility assertion. strategy is
// the resolved strategy recorded on the StepRun, not the declared one.
func (e *Engine) collectRefundable(reasons *reason.Resolver, sp *stepPlan, code reason.Code, strategy workorder.Strategy, refundEligible bool, out *[]ledger.FailedCharge) {
	if code == "" {
		return
	}
	pol, err := reasons.Lookup(code)
	if err != nil || !pol.Refundable {
		return
	}
	if sp.kind == catalog.KindDelivery && strategy == workorder.StrategyNew && !refundEligible {
		e.logger.Info("delivery step failed without refund eligibility assertion, excluding from refund",
			"step", sp.step.ID, "reason", string(code))
		return
	}
	*out = append(*out, ledger.FailedCharge{
		StepID:     sp.step.ID,
		Name:       "run:" + sp.step.ID,
		Amount:     sp.charge(),
		ReasonCode: string(code),
	})
}

// postRefund posts the whole-order REFUND. Always posted, zero total
// included, with the calculation note as a zero-amount line item, so
// every attempt is ledger-visible regardless of outcome.
func (e *Engine) postRefund(ctx context.Context, wo *workorder.WorkOrder, attempt, status string, calc ledger.RefundCalc, audits []ledger.LineItem, usedIDs map[string]bool) error {
	now := e.now()
	noteID, err := ident.NewID("transaction_item_id", usedIDs)
	if err != nil {
		return internalErr(wo.ID, wo.Tenant, "generate item id", err)
	}
	items := []ledger.LineItem{{
		ID:            noteID,
		Name:          "refund_calculation",
		Category:      ledger.CatRefundNote,
		AmountCredits: 0,
		Note:          calc.Note,
	}}
	items = append(items, audits...)

	txn := ledger.Transaction{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Tenant:         wo.Tenant,
		WorkOrder:      wo.ID,
		Type:           ledger.TxRefund,
		AmountCredits:  calc.Refund,
		CreatedAt:      now,
		IdempotencyKey: ledger.RefundKey(wo.Tenant, wo.ID, attempt, status),
	}
	inserted, err := e.store.AppendTransaction(ctx, txn, items)
	if err != nil {
		return internalErr(wo.ID, wo.Tenant, "post refund", err)
	}
	if !inserted {
		e.logger.Info("refund already posted, replay no-op", "work_order", wo.ID, "attempt", attempt)
	}

	for _, promo := range calc.PromoRefunds {
		err := e.store.RecordPromoEvent(ctx, ledger.PromoEvent{
			Tenant:        wo.Tenant,
			WorkOrder:     wo.ID,
			Attempt:       attempt,
			PromoCode:     promo.Code,
			Event:         "REFUNDED",
			AmountCredits: promo.Amount,
			CreatedAt:     now,
		})
		if err != nil {
			return internalErr(wo.ID, wo.Tenant, "record promo refund event", err)
		}
	}
	return nil
}

// reduceStatus folds per-step outcomes into the order's terminal
// status. STRICT fails the whole order on any failure; PARTIAL_ALLOWED
// distinguishes a clean, mixed, and fully failed run. The reason code
// of the first failed step becomes the order reason on failure.
func reduceStatus(mode workorder.CompletionMode, planned int, outcomes []StepOutcome) (string, string) {
	failed := 0
	firstReason := ""
	for _, o := range outcomes {
		if o.Status == ledger.StatusFailed {
			failed++
			if firstReason == "" {
				firstReason = o.ReasonCode
			}
		}
	}
	switch {
	case failed == 0 && len(outcomes) == planned:
		return ledger.StatusCompleted, ""
	case mode == workorder.Strict:
		return ledger.StatusFailed, firstReason
	case failed == len(outcomes) && len(outcomes) == planned:
		return ledger.StatusFailed, firstReason
	default:
		return ledger.StatusPartiallyCompleted, firstReason
	}
}

// checkpoint upserts the attempt's durable state-machine position.
func (e *Engine) checkpoint(ctx context.Context, wo *workorder.WorkOrder, attempt string, state ledger.RunState, status, reasonCode string, now time.Time) error {
	run := ledger.WorkOrderRun{
		WorkOrder:  wo.ID,
		Attempt:    attempt,
		Tenant:     wo.Tenant,
		State:      state,
		Status:     status,
		ReasonCode: reasonCode,
		StartedAt:  now,
	}
	if state == ledger.RunTerminal {
		run.EndedAt = e.now()
	}
	if err := e.store.UpsertRun(ctx, run); err != nil {
		return internalErr(wo.ID, wo.Tenant, fmt.Sprintf("checkpoint %s", state), err)
	}
	return nil
}

// replayResult rebuilds the Result of an already-terminal attempt from
// the durable records.
func (e *Engine) replayResult(ctx context.Context, wo *workorder.WorkOrder, attempt string, run ledger.WorkOrderRun) (*Result, error) {
	srs, err := e.store.StepRuns(ctx, wo.ID, attempt)
	if err != nil {
		return nil, internalErr(wo.ID, wo.Tenant, "read step runs", err)
	}
	res := &Result{
		WorkOrder:  wo.ID,
		Attempt:    attempt,
		Tenant:     wo.Tenant,
		Status:     run.Status,
		ReasonCode: run.ReasonCode,
		Replayed:   true,
	}
	for _, sr := range srs {
		res.Steps = append(res.Steps, StepOutcome{
			StepID:     sr.StepID,
			ModuleID:   sr.ModuleID,
			Status:     sr.Status,
			ReasonCode: sr.ReasonCode,
			Strategy:   workorder.Strategy(sr.Strategy),
		})
	}
	e.logger.Info("attempt already terminal, returning recorded result",
		"work_order", wo.ID, "attempt", attempt, "status", run.Status)
	return res, nil
}
