// Package harness runs YAML-defined billing scenarios end to end:
// seed balances, execute a work order attempt with scripted module
// outcomes, then assert on the terminal status and ledger effects.
package harness

import (
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Catalog is the CUE catalog directory, relative to the scenario
	// file.
	Catalog string `yaml:"catalog"`

	// Balances seeds tenant balances (tenant id → credits).
	Balances map[string]int64 `yaml:"balances"`

	// WorkOrder is the order under test, inline.
	WorkOrder workorder.WorkOrder `yaml:"work_order"`

	// Runner scripts module outcomes by step id. Unscripted steps
	// complete cleanly.
	Runner map[string]StepScript `yaml:"runner,omitempty"`

	// Attempt fixes the attempt token for deterministic records.
	Attempt string `yaml:"attempt,omitempty"`

	// Expect holds the assertions run after execution.
	Expect Expect `yaml:"expect"`
}

// StepScript is the scripted outcome of one module run.
type StepScript struct {
	// ReasonSlug classifies the run via the catalog's reason table.
	ReasonSlug string `yaml:"reason_slug,omitempty"`

	// Error makes the runner return a hard error (classified as
	// module_failed).
	Error bool `yaml:"error,omitempty"`

	// RefundIneligible withholds the delivery refund-eligibility
	// assertion.
	RefundIneligible bool `yaml:"refund_ineligible,omitempty"`
}

// Expect is the assertion set evaluated after the attempt.
type Expect struct {
	// Status is the expected terminal order status.
	Status string `yaml:"status"`

	// InsufficientCredits expects the credit check to reject the order.
	InsufficientCredits bool `yaml:"insufficient_credits,omitempty"`

	// Spend and Refund are the expected transaction totals.
	Spend  *int64 `yaml:"spend,omitempty"`
	Refund *int64 `yaml:"refund,omitempty"`

	// Balances are expected final balances (tenant id → credits).
	Balances map[string]int64 `yaml:"balances,omitempty"`

	// Steps are expected per-step statuses (step id → status).
	Steps map[string]string `yaml:"steps,omitempty"`
}
