package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenda-podcast/Platform/internal/ledger"
)

// TopupOptions holds flags for the admin-topup command.
type TopupOptions struct {
	*RootOptions
	Database   string
	Tenant     string
	Amount     int64
	MethodID   string
	PaymentRef string
	Note       string
}

// NewAdminTopupCommand creates the admin-topup command.
func NewAdminTopupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admin-topup",
		Short: "Credit a tenant balance from an external payment",
		Long: `Post a TOPUP transaction for a tenant. Idempotent on the payment
reference: re-running the same reconciliation batch cannot
double-credit.

Example:
  platform admin-topup --db billing.db --tenant 42 --amount 100 --method stripe --payment pi_123`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopup(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the billing-state database (required)")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "tenant identifier (required)")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "credits to add (required)")
	cmd.Flags().StringVar(&opts.MethodID, "method", "", "payment method identifier (required)")
	cmd.Flags().StringVar(&opts.PaymentRef, "payment", "", "external payment reference (required)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "optional note on the ledger item")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("method")
	_ = cmd.MarkFlagRequired("payment")

	return cmd
}

func runTopup(opts *TopupOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	st, err := ledger.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	inserted, err := st.AdminTopup(cmd.Context(), ledger.Topup{
		Tenant:     opts.Tenant,
		MethodID:   opts.MethodID,
		PaymentRef: opts.PaymentRef,
		Amount:     opts.Amount,
		Note:       opts.Note,
	}, time.Now())
	if err != nil {
		_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
		return WrapExitError(ExitInternalError, "topup failed", err)
	}

	bal, err := st.Balance(cmd.Context(), opts.Tenant)
	if err != nil {
		_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
		return WrapExitError(ExitInternalError, "read balance", err)
	}

	if !inserted {
		slog.Default().Info("payment already applied, no-op",
			"tenant", opts.Tenant, "payment", opts.PaymentRef)
	}
	return out.Success(map[string]any{
		"tenant_id": bal.Tenant,
		"balance":   bal.Credits,
		"applied":   inserted,
		"payment":   fmt.Sprintf("topup:%s:%s", opts.MethodID, opts.PaymentRef),
	})
}
