package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agenda-podcast/Platform/internal/artifact"
	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/plan"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	CatalogDir string
}

// PlannedStep is one row of the plan output.
type PlannedStep struct {
	Position int    `json:"position"`
	StepID   string `json:"step_id"`
	ModuleID string `json:"module_id"`
	Kind     string `json:"kind"`
	Strategy string `json:"strategy"`
	Charge   int64  `json:"charge_credits"`
}

// PlanOutput is the plan command's result payload.
type PlanOutput struct {
	WorkOrder   string        `json:"work_order_id"`
	Tenant      string        `json:"tenant_id"`
	Mode        string        `json:"completion_mode"`
	Steps       []PlannedStep `json:"steps"`
	TotalCharge int64         `json:"total_charge_credits"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <work-order.yaml>",
		Short: "Validate a work order and print its execution order",
		Long: `Validate a work order against the catalog and print the
deterministic execution order with per-step charges. No billing state
is touched.

Example:
  platform plan --catalog ./catalog order.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "path to catalog directory (required)")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runPlan(opts *PlanOptions, orderPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	snap, err := catalog.Load(opts.CatalogDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	wo, err := workorder.Load(orderPath)
	if err != nil {
		_ = out.Error("VALIDATION_ERROR", err.Error(), nil)
		return WrapExitError(ExitValidationError, "work order validation failed", err)
	}
	if err := artifact.CheckStructure(wo, snap, slog.Default()); err != nil {
		_ = out.Error("VALIDATION_ERROR", err.Error(), nil)
		return WrapExitError(ExitValidationError, "artifact gate violation", err)
	}

	output, err := buildPlanOutput(snap, wo)
	if err != nil {
		_ = out.Error("VALIDATION_ERROR", err.Error(), nil)
		return WrapExitError(ExitValidationError, "planning failed", err)
	}

	if opts.Format == "json" {
		return out.Success(output)
	}
	fmt.Fprint(cmd.OutOrStdout(), formatPlanText(output))
	return nil
}

func buildPlanOutput(snap *catalog.Snapshot, wo *workorder.WorkOrder) (*PlanOutput, error) {
	moduleDeps := map[string][]string{}
	for i := range wo.Steps {
		s := &wo.Steps[i]
		if !s.IsEnabled() {
			continue
		}
		mc, err := snap.Module(s.Module)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
		moduleDeps[ident.CanonicalKey(s.Module)] = mc.DependsOn
	}

	ordered, err := plan.Order(wo, moduleDeps)
	if err != nil {
		return nil, err
	}

	output := &PlanOutput{
		WorkOrder: wo.ID,
		Tenant:    ident.DisplayTenantID(wo.Tenant),
		Mode:      string(wo.Mode),
	}
	for i, step := range ordered {
		mc, err := snap.Module(step.Module)
		if err != nil {
			return nil, err
		}
		kind := mc.Kind
		if step.Kind != "" {
			kind = catalog.StepKind(step.Kind)
		}
		charge := mc.RunPrice
		if publish, perr := artifact.ShouldPublish(mc, snap.ArtifactsDisabled(step.Module), step.PurchaseArtifacts); perr == nil && publish {
			charge += mc.ArtifactSavePrice
		}
		strategy := step.Strategy
		if strategy == "" {
			strategy = workorder.StrategyNew
		}
		output.Steps = append(output.Steps, PlannedStep{
			Position: i + 1,
			StepID:   step.ID,
			ModuleID: ident.DisplayModuleID(mc.ID),
			Kind:     string(kind),
			Strategy: string(strategy),
			Charge:   charge,
		})
		output.TotalCharge += charge
	}
	return output, nil
}

func formatPlanText(p *PlanOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "work order %s (tenant %s, mode %s)\n", p.WorkOrder, p.Tenant, p.Mode)
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "  %d. %s  module %s (%s)  strategy=%s  %d credits\n",
			s.Position, s.StepID, s.ModuleID, s.Kind, s.Strategy, s.Charge)
	}
	fmt.Fprintf(&b, "total charge: %d credits\n", p.TotalCharge)
	return b.String()
}
