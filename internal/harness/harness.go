package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/agenda-podcast/Platform/internal/artifact"
	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/engine"
	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/ledger"
	"github.com/agenda-podcast/Platform/internal/reuse"
	"github.com/agenda-podcast/Platform/internal/testutil"
)

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if sc.Catalog == "" {
		return nil, fmt.Errorf("scenario %s: catalog is required", path)
	}
	if err := sc.WorkOrder.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Run executes one scenario file and applies its assertions.
func Run(t *testing.T, path string) {
	t.Helper()

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	snap, err := catalog.Load(filepath.Join(filepath.Dir(path), sc.Catalog))
	require.NoError(t, err)

	st := testutil.OpenStore(t)
	clock := testutil.NewClock()
	ctx := context.Background()

	for tenant, credits := range sc.Balances {
		require.NoError(t, st.EnsureTenant(ctx, tenant, clock.Now()))
		if credits > 0 {
			_, err := st.AdminTopup(ctx, ledger.Topup{
				Tenant:     tenant,
				MethodID:   "seed",
				PaymentRef: "seed-" + tenant,
				Amount:     credits,
			}, clock.Now())
			require.NoError(t, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	outDir := t.TempDir()
	governor := cache.NewGovernor(st.DB(), logger)
	releases := artifact.NewLocalStore(filepath.Join(outDir, "artifacts"))
	assets := artifact.NewAssetLibrary(filepath.Join(outDir, "assets"))
	resolver := reuse.NewResolver(governor, releases, assets, logger)
	runner := &ScriptedRunner{Scripts: sc.Runner}

	eng := engine.New(st, governor, resolver, releases, runner, outDir, logger)
	eng.SetClock(clock.Now)

	attempt := sc.Attempt
	if attempt == "" {
		attempt = "attempt-1"
	}
	result, execErr := eng.Execute(ctx, snap, &sc.WorkOrder, attempt)

	if sc.Expect.InsufficientCredits {
		require.Error(t, execErr, "expected credit check rejection")
		require.True(t, engine.IsInsufficientCredits(execErr))
	} else {
		require.NoError(t, execErr)
	}
	require.NotNil(t, result)

	if sc.Expect.Status != "" {
		require.Equal(t, sc.Expect.Status, result.Status, "terminal status")
	}
	if sc.Expect.Spend != nil {
		require.Equal(t, *sc.Expect.Spend, result.SpendTotal, "spend total")
	}
	if sc.Expect.Refund != nil {
		require.Equal(t, *sc.Expect.Refund, result.RefundTotal, "refund total")
	}
	for tenant, want := range sc.Expect.Balances {
		bal, err := st.Balance(ctx, tenant)
		require.NoError(t, err)
		require.Equal(t, want, bal.Credits, "balance of tenant %s", tenant)
	}
	for stepID, want := range sc.Expect.Steps {
		require.Equal(t, want, stepStatus(result, stepID), "status of step %s", stepID)
	}
}

func stepStatus(result *engine.Result, stepID string) string {
	for _, s := range result.Steps {
		if ident.Match(s.StepID, stepID) {
			return s.Status
		}
	}
	return ""
}

// RunDir runs every *.yaml scenario in a directory as a subtest.
func RunDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		t.Run(entry.Name(), func(t *testing.T) {
			Run(t, path)
		})
	}
}
