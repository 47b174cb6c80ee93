package ledger

import (
	"reflect"
	"testing"
)

func TestComputeRefundSimple(t *testing.T) {
	calc := ComputeRefund([]FailedCharge{
		{StepID: "s2", Name: "run:s2", Amount: 10},
	}, nil)

	if calc.Refund != 10 {
		t.Errorf("Refund = %d, want 10", calc.Refund)
	}
	if calc.FailedGross != 10 || calc.DealsTotal != 0 {
		t.Errorf("gross/deals = %d/%d, want 10/0", calc.FailedGross, calc.DealsTotal)
	}
	if calc.Note != "refund = max(0, failed_gross 10 - deals_total 0) = 10" {
		t.Errorf("Note = %q", calc.Note)
	}
}

func TestComputeRefundNothingFailed(t *testing.T) {
	calc := ComputeRefund(nil, []PromoApplied{{Code: "LAUNCH10", Amount: 10}})
	if calc.Refund != 0 {
		t.Errorf("Refund = %d, want 0", calc.Refund)
	}
	if len(calc.PromoRefunds) != 0 {
		t.Errorf("PromoRefunds = %v, want none", calc.PromoRefunds)
	}
}

func TestComputeRefundClampsAtZero(t *testing.T) {
	// Discounts exceed the refundable charges: the tenant never pays
	// back the overhang.
	calc := ComputeRefund(
		[]FailedCharge{{StepID: "s1", Amount: 5}},
		[]PromoApplied{{Code: "LAUNCH10", Amount: 10}},
	)
	if calc.Refund != 0 {
		t.Errorf("Refund = %d, want 0", calc.Refund)
	}
	if calc.FailedGross != 5 || calc.DealsTotal != 10 {
		t.Errorf("gross/deals = %d/%d, want 5/10", calc.FailedGross, calc.DealsTotal)
	}
	want := []PromoApplied{{Code: "LAUNCH10", Amount: 5}}
	if !reflect.DeepEqual(calc.PromoRefunds, want) {
		t.Errorf("PromoRefunds = %v, want %v", calc.PromoRefunds, want)
	}
}

func TestComputeRefundNetsDeals(t *testing.T) {
	calc := ComputeRefund(
		[]FailedCharge{
			{StepID: "s1", Amount: 8},
			{StepID: "s3", Amount: 7},
		},
		[]PromoApplied{{Code: "SPRING5", Amount: 5}},
	)
	if calc.Refund != 10 {
		t.Errorf("Refund = %d, want 10 (15 gross - 5 deals)", calc.Refund)
	}
	want := []PromoApplied{{Code: "SPRING5", Amount: 5}}
	if !reflect.DeepEqual(calc.PromoRefunds, want) {
		t.Errorf("PromoRefunds = %v, want %v", calc.PromoRefunds, want)
	}
}

func TestComputeRefundAllocatesPromosInApplyOrder(t *testing.T) {
	// 12 gross consumes LAUNCH10 fully, then 2 of SPRING5.
	calc := ComputeRefund(
		[]FailedCharge{{StepID: "s1", Amount: 12}},
		[]PromoApplied{
			{Code: "LAUNCH10", Amount: 10},
			{Code: "SPRING5", Amount: 5},
		},
	)
	if calc.Refund != 0 {
		t.Errorf("Refund = %d, want 0 (12 gross - 15 deals clamps)", calc.Refund)
	}
	want := []PromoApplied{
		{Code: "LAUNCH10", Amount: 10},
		{Code: "SPRING5", Amount: 2},
	}
	if !reflect.DeepEqual(calc.PromoRefunds, want) {
		t.Errorf("PromoRefunds = %v, want %v", calc.PromoRefunds, want)
	}
}

func TestComputeRefundIgnoresNonPositiveCharges(t *testing.T) {
	calc := ComputeRefund([]FailedCharge{
		{StepID: "s1", Amount: 0},
		{StepID: "s2", Amount: -3},
		{StepID: "s3", Amount: 4},
	}, nil)
	if calc.FailedGross != 4 {
		t.Errorf("FailedGross = %d, want 4", calc.FailedGross)
	}
}
