package engine

import (
	"context"

	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/reason"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// RunRequest carries everything a module needs to execute one step.
type RunRequest struct {
	Tenant    string
	WorkOrder string
	Attempt   string
	Step      *workorder.Step
	Contract  catalog.ModuleContract
	// OutDir is the runtime output location for produced files.
	OutDir string
}

// RunResult is what a module run reports back.
type RunResult struct {
	// ReasonCode, when set, classifies the run outcome; its policy
	// decides whether the step failed. Empty means clean completion.
	ReasonCode reason.Code
	// ReasonSlug is the slug alternative to ReasonCode; resolved
	// against the snapshot's reason catalog. ReasonCode wins if both
	// are set.
	ReasonSlug string
	// RefundEligible is the module's own assertion that a refund makes
	// sense. Consulted only for delivery-kind steps.
	RefundEligible bool
	// Artifacts are the produced file paths available for publication.
	Artifacts []string
}

// Runner executes modules. Module execution is opaque to the engine;
// the engine only bills, records and classifies outcomes.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}
