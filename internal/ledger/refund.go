package ledger

import (
	"fmt"
)

// FailedCharge is one charged line item belonging to a failed,
// refundable step.
type FailedCharge struct {
	StepID     string
	Name       string
	Amount     int64
	ReasonCode string
}

// PromoApplied is one promo/deal discount as applied to the order, in
// apply order. Amount is the absolute discount value.
type PromoApplied struct {
	Code   string
	Amount int64
}

// RefundCalc is the result of the whole-order refund computation.
type RefundCalc struct {
	FailedGross int64
	DealsTotal  int64
	Refund      int64
	// PromoRefunds allocates the clawed-back discount across promos in
	// apply order (first applied, first consumed). Only promos with a
	// nonzero allocation appear.
	PromoRefunds []PromoApplied
	// Note is the human-readable calculation note carried on the
	// REFUND transaction's REFUND_NOTE line item.
	Note string
}

// ComputeRefund nets promotional discounts out of the refundable
// failed charges:
//
//	refund = max(0, failed_gross − deals_total)
//
// failedGross sums charges of steps that failed with a refundable
// reason; dealsTotal is the absolute sum of negative promo/deal line
// items already applied. Discounts are consumed in apply order when
// computing the per-promo allocation, so partially refunding stacked
// promos is deterministic.
func ComputeRefund(failed []FailedCharge, promos []PromoApplied) RefundCalc {
	var gross int64
	for _, f := range failed {
		if f.Amount > 0 {
			gross += f.Amount
		}
	}

	var deals int64
	for _, p := range promos {
		deals += p.Amount
	}

	refund := gross - deals
	if refund < 0 {
		refund = 0
	}

	// The clawed-back discount is the portion of the promos consumed by
	// the failed charges: min(gross, deals), allocated in apply order.
	consumed := gross
	if deals < consumed {
		consumed = deals
	}
	var allocations []PromoApplied
	for _, p := range promos {
		if consumed <= 0 {
			break
		}
		take := p.Amount
		if take > consumed {
			take = consumed
		}
		if take > 0 {
			allocations = append(allocations, PromoApplied{Code: p.Code, Amount: take})
			consumed -= take
		}
	}

	return RefundCalc{
		FailedGross:  gross,
		DealsTotal:   deals,
		Refund:       refund,
		PromoRefunds: allocations,
		Note:         fmt.Sprintf("refund = max(0, failed_gross %d - deals_total %d) = %d", gross, deals, refund),
	}
}
