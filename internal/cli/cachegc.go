package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/ledger"
)

// CacheGCOptions holds flags for the cache-gc command.
type CacheGCOptions struct {
	*RootOptions
	Database  string
	CacheRoot string
	DryRun    bool
}

// NewCacheGCCommand creates the cache-gc command: the maintenance
// collaborator that performs the physical deletion the governor itself
// never does.
func NewCacheGCCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheGCOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache-gc",
		Short: "Reconcile the cache index and delete expired entries",
		Long: `Enumerate the physical cache store, register orphans in the index
with a one-year hold, then delete expired objects and confirm the
deletions back to the index. Orphans registered in this pass are never
deleted in the same pass.

Example:
  platform cache-gc --db billing.db --cache-root ./out/cache`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheGC(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the billing-state database (required)")
	cmd.Flags().StringVar(&opts.CacheRoot, "cache-root", "", "physical cache store root (required)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report eligible entries without deleting")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("cache-root")

	return cmd
}

func runCacheGC(opts *CacheGCOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	logger := slog.Default()
	now := time.Now()

	st, err := ledger.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()
	governor := cache.NewGovernor(st.DB(), logger)

	objects, err := enumerateCacheStore(opts.CacheRoot)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to enumerate cache store", err)
	}
	orphans, err := governor.ReconcileOrphans(cmd.Context(), objects)
	if err != nil {
		_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
		return WrapExitError(ExitInternalError, "orphan reconciliation failed", err)
	}
	registeredThisPass := map[string]bool{}
	for _, key := range orphans {
		registeredThisPass[key] = true
	}

	eligible, err := governor.EligibleForDeletion(cmd.Context(), now)
	if err != nil {
		_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
		return WrapExitError(ExitInternalError, "eligibility query failed", err)
	}

	deleted := []string{}
	if !opts.DryRun {
		for _, e := range eligible {
			// An orphan registered in this pass is never deleted in the
			// same pass, whatever expiry it computed to.
			if registeredThisPass[e.CacheKey] {
				continue
			}
			path := filepath.Join(opts.CacheRoot, e.CacheKey)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("could not delete cache object, keeping index row",
					"cache_key", e.CacheKey, "error", err)
				continue
			}
			deleted = append(deleted, e.CacheKey)
		}
		if err := governor.ConfirmDeleted(cmd.Context(), deleted); err != nil {
			_ = out.Error("INTERNAL_ERROR", err.Error(), nil)
			return WrapExitError(ExitInternalError, "confirming deletions failed", err)
		}
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"orphans_registered": len(orphans),
			"eligible":           len(eligible),
			"deleted":            len(deleted),
			"dry_run":            opts.DryRun,
		})
	}
	return out.Success(fmt.Sprintf("orphans registered: %d, eligible: %d, deleted: %d",
		len(orphans), len(eligible), len(deleted)))
}

// enumerateCacheStore lists the physical cache objects: one file per
// cache key directly under the root.
func enumerateCacheStore(root string) ([]cache.StoredObject, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var objects []cache.StoredObject
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		objects = append(objects, cache.StoredObject{
			CacheKey:  entry.Name(),
			CreatedAt: info.ModTime(),
		})
	}
	return objects, nil
}
