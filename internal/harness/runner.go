package harness

import (
	"context"
	"errors"

	"github.com/agenda-podcast/Platform/internal/engine"
	"github.com/agenda-podcast/Platform/internal/ident"
)

// ScriptedRunner plays back per-step outcomes. Unscripted steps
// complete cleanly with the refund-eligibility assertion set.
type ScriptedRunner struct {
	Scripts map[string]StepScript
	// Calls records the step ids run, in order.
	Calls []string
}

func (r *ScriptedRunner) Run(_ context.Context, req engine.RunRequest) (engine.RunResult, error) {
	r.Calls = append(r.Calls, req.Step.ID)

	script, ok := r.Scripts[ident.CanonicalKey(req.Step.ID)]
	if !ok {
		script, ok = r.Scripts[req.Step.ID]
	}
	if !ok {
		return engine.RunResult{RefundEligible: true}, nil
	}
	if script.Error {
		return engine.RunResult{}, errors.New("scripted module error")
	}
	return engine.RunResult{
		ReasonSlug:     script.ReasonSlug,
		RefundEligible: !script.RefundIneligible,
	}, nil
}
