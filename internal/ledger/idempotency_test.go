package ledger

import (
	"strings"
	"testing"
)

func TestSpendKeyDeterministic(t *testing.T) {
	a := SpendKey("42", "wo-1", "a1")
	b := SpendKey("42", "wo-1", "a1")
	if a != b {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "wo_spend_") {
		t.Errorf("key %s missing prefix", a)
	}
	if len(a) != len("wo_spend_")+24 {
		t.Errorf("key length = %d", len(a))
	}
}

func TestKeysCanonicalizeIdentifiers(t *testing.T) {
	// Display and raw forms of the same identifiers derive the same key.
	if SpendKey("0000000042", "wo-1", "a1") != SpendKey("42", "wo-1", "a1") {
		t.Error("SpendKey must match on canonical tenant key")
	}
	if StepChargeKey("42", "wo-1", "a1", "07", "000101") != StepChargeKey("42", "wo-1", "a1", "7", "101") {
		t.Error("StepChargeKey must match on canonical step and module keys")
	}
}

func TestKeysVaryByDimension(t *testing.T) {
	base := SpendKey("42", "wo-1", "a1")
	for name, other := range map[string]string{
		"tenant":     SpendKey("43", "wo-1", "a1"),
		"work order": SpendKey("42", "wo-2", "a1"),
		"attempt":    SpendKey("42", "wo-1", "a2"),
	} {
		if other == base {
			t.Errorf("%s does not affect the key", name)
		}
	}
}

func TestRefundKeyVariesByTerminalStatus(t *testing.T) {
	a := RefundKey("42", "wo-1", "a1", StatusCompleted)
	b := RefundKey("42", "wo-1", "a1", StatusPartiallyCompleted)
	if a == b {
		t.Error("terminal status must participate in the refund key")
	}
}

func TestTopupKeyBoundToPayment(t *testing.T) {
	a := TopupKey("42", "stripe", "pay-1")
	if a != TopupKey("42", "stripe", "pay-1") {
		t.Error("TopupKey not deterministic")
	}
	if a == TopupKey("42", "stripe", "pay-2") {
		t.Error("payment reference must affect the key")
	}
	if !strings.HasPrefix(a, "topup_") {
		t.Errorf("key %s missing prefix", a)
	}
}

func TestChargeKeyPrefixesDistinguishRunAndUpload(t *testing.T) {
	run := StepChargeKey("42", "wo-1", "a1", "s1", "101")
	up := UploadChargeKey("42", "wo-1", "a1", "s1", "101")
	if run == up {
		t.Error("run and upload charges for the same step must not collide")
	}
}
