package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/agenda-podcast/Platform/internal/ledger"
)

// RecomputeOptions holds flags for the admin-recompute command.
type RecomputeOptions struct {
	*RootOptions
	Database string
}

// NewAdminRecomputeCommand creates the admin-recompute command, which
// rebuilds tenant balances from the append-only ledger.
func NewAdminRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecomputeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admin-recompute",
		Short: "Rebuild tenant balances from the ledger",
		Long: `Recompute every tenant balance deterministically from the
append-only transaction history. The ledger is never rewritten; only
the derived balance table changes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the billing-state database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRecompute(opts *RecomputeOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	st, err := ledger.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if err := st.RecomputeBalances(cmd.Context(), time.Now()); err != nil {
		_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
		return WrapExitError(ExitInternalError, "recompute failed", err)
	}
	return out.Success("balances recomputed")
}
