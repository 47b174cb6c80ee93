package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalRunner is the built-in development runner. It materializes the
// step's resolved inputs as a YAML document under the runtime output
// location and reports clean completion. Production execution backends
// replace it through the Runner interface.
type LocalRunner struct{}

func (LocalRunner) Run(_ context.Context, req RunRequest) (RunResult, error) {
	dir := filepath.Join(req.OutDir, req.WorkOrder, req.Attempt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("create output dir: %w", err)
	}

	doc := map[string]any{
		"step_id":   req.Step.ID,
		"module_id": req.Contract.ID,
		"version":   req.Contract.Version,
		"inputs":    req.Step.Inputs,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return RunResult{}, fmt.Errorf("encode step output: %w", err)
	}
	path := filepath.Join(dir, req.Step.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return RunResult{}, fmt.Errorf("write step output: %w", err)
	}
	return RunResult{RefundEligible: true, Artifacts: []string{path}}, nil
}
