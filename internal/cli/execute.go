package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agenda-podcast/Platform/internal/artifact"
	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/engine"
	"github.com/agenda-podcast/Platform/internal/ledger"
	"github.com/agenda-podcast/Platform/internal/reuse"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// ExecuteOptions holds flags for the execute command.
type ExecuteOptions struct {
	*RootOptions
	Database      string
	CatalogDir    string
	OutDir        string
	ArtifactsRoot string
	AssetsRoot    string
	Attempt       string

	// Runner overrides the module execution backend (for testing).
	Runner engine.Runner
}

// NewExecuteCommand creates the execute command.
func NewExecuteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecuteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "execute <work-order.yaml>",
		Short: "Execute a work order attempt against the credit ledger",
		Long: `Execute one attempt of a work order: plan, credit check, spend,
run steps, refund. Re-invoking the same attempt is safe; ledger
postings are idempotent and a terminal attempt replays its recorded
result.

Example:
  platform execute --db billing.db --catalog ./catalog --out ./out order.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the billing-state database (required)")
	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "path to catalog directory (required)")
	cmd.Flags().StringVar(&opts.OutDir, "out", "", "runtime output location (required)")
	cmd.Flags().StringVar(&opts.ArtifactsRoot, "artifacts-root", "", "artifact store root (defaults to <out>/artifacts)")
	cmd.Flags().StringVar(&opts.AssetsRoot, "assets-root", "", "tenant asset library root (defaults to <out>/assets)")
	cmd.Flags().StringVar(&opts.Attempt, "attempt", "", "attempt token (defaults to a fresh UUIDv7)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("catalog")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExecute(opts *ExecuteOptions, orderPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	logger := slog.Default()

	snap, err := catalog.Load(opts.CatalogDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	wo, err := workorder.Load(orderPath)
	if err != nil {
		_ = out.Error("VALIDATION_ERROR", err.Error(), nil)
		return WrapExitError(ExitValidationError, "work order validation failed", err)
	}
	if !wo.IsEnabled() {
		_ = out.Error("VALIDATION_ERROR", "work order is disabled", nil)
		return NewExitError(ExitValidationError, "work order is disabled")
	}

	st, err := ledger.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	artifactsRoot := opts.ArtifactsRoot
	if artifactsRoot == "" {
		artifactsRoot = opts.OutDir + "/artifacts"
	}
	assetsRoot := opts.AssetsRoot
	if assetsRoot == "" {
		assetsRoot = opts.OutDir + "/assets"
	}

	governor := cache.NewGovernor(st.DB(), logger)
	releases := artifact.NewLocalStore(artifactsRoot)
	assets := artifact.NewAssetLibrary(assetsRoot)
	resolver := reuse.NewResolver(governor, releases, assets, logger)
	runner := opts.Runner
	if runner == nil {
		runner = engine.LocalRunner{}
	}
	eng := engine.New(st, governor, resolver, releases, runner, opts.OutDir, logger)

	result, err := eng.Execute(cmd.Context(), snap, wo, opts.Attempt)
	if err != nil {
		return exitForEngineError(out, err)
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), formatResultText(result))
	}

	switch result.Status {
	case ledger.StatusCompleted:
		return nil
	default:
		return NewExitError(ExitFailure, fmt.Sprintf("work order %s terminal status %s", result.WorkOrder, result.Status))
	}
}

// exitForEngineError maps engine fault classes to distinct exit codes.
func exitForEngineError(out *OutputFormatter, err error) error {
	switch {
	case engine.IsInsufficientCredits(err):
		_ = out.Error("INSUFFICIENT_CREDITS", err.Error(), nil)
		return WrapExitError(ExitInsufficientCredits, "insufficient credits", err)
	case engine.IsValidationError(err):
		_ = out.Error("VALIDATION_ERROR", err.Error(), nil)
		return WrapExitError(ExitValidationError, "validation failed", err)
	default:
		_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
		return WrapExitError(ExitInternalError, "internal error", err)
	}
}

func formatResultText(r *engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "work order %s attempt %s: %s\n", r.WorkOrder, r.Attempt, r.Status)
	if r.ReasonCode != "" {
		fmt.Fprintf(&b, "reason: %s\n", r.ReasonCode)
	}
	fmt.Fprintf(&b, "spend: %d credits, refund: %d credits\n", r.SpendTotal, r.RefundTotal)
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %s  module %s  %s", s.StepID, s.ModuleID, s.Status)
		if s.ReasonCode != "" {
			line += "  reason=" + s.ReasonCode
		}
		fmt.Fprintln(&b, line)
	}
	if r.Replayed {
		fmt.Fprintln(&b, "(replayed: attempt was already terminal)")
	}
	return b.String()
}
