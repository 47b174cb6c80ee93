package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/cli"
	"github.com/agenda-podcast/Platform/internal/ledger"
)

// runCommand executes the root command with args and captures stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestPlanTextOutput(t *testing.T) {
	out, err := runCommand(t, "plan", "--catalog", "testdata/catalog", "testdata/order.yaml")
	require.NoError(t, err)
	goldie.New(t).Assert(t, "plan_text", []byte(out))
}

func TestPlanJSONOutput(t *testing.T) {
	out, err := runCommand(t, "plan", "--format", "json",
		"--catalog", "testdata/catalog", "testdata/order.yaml")
	require.NoError(t, err)
	goldie.New(t).Assert(t, "plan_json", []byte(out))
}

func TestPlanMissingCatalogIsCommandError(t *testing.T) {
	_, err := runCommand(t, "plan", "--catalog", "testdata/nope", "testdata/order.yaml")
	require.Error(t, err)
	assert.Equal(t, cli.ExitCommandError, cli.GetExitCode(err))
}

func TestPlanGateViolationIsValidationError(t *testing.T) {
	_, err := runCommand(t, "plan", "--catalog", "testdata/catalog",
		"testdata/order_gate_violation.yaml")
	require.Error(t, err)
	assert.Equal(t, cli.ExitValidationError, cli.GetExitCode(err))
}

func TestPlanMalformedOrderIsValidationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("work_order_id: wo-x\nsteps: []\n"), 0o644))

	_, err := runCommand(t, "plan", "--catalog", "testdata/catalog", path)
	require.Error(t, err)
	assert.Equal(t, cli.ExitValidationError, cli.GetExitCode(err))
}

func TestAdminTopupAndExecute(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")
	outDir := t.TempDir()

	out, err := runCommand(t, "admin-topup", "--format", "json",
		"--db", db, "--tenant", "42", "--amount", "100",
		"--method", "stripe", "--payment", "pi_123")
	require.NoError(t, err)
	assert.Contains(t, out, `"applied":true`)
	assert.Contains(t, out, `"balance":100`)

	// Re-running the same payment is a no-op.
	out, err = runCommand(t, "admin-topup", "--format", "json",
		"--db", db, "--tenant", "42", "--amount", "100",
		"--method", "stripe", "--payment", "pi_123")
	require.NoError(t, err)
	assert.Contains(t, out, `"applied":false`)
	assert.Contains(t, out, `"balance":100`)

	out, err = runCommand(t, "execute",
		"--db", db, "--catalog", "testdata/catalog", "--out", outDir,
		"--attempt", "cli-a1", "testdata/order_simple.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "work order wo-cli-1 attempt cli-a1: COMPLETED")
	assert.Contains(t, out, "spend: 15 credits, refund: 0 credits")

	// Re-invoking the terminal attempt replays without recharging.
	out, err = runCommand(t, "execute",
		"--db", db, "--catalog", "testdata/catalog", "--out", outDir,
		"--attempt", "cli-a1", "testdata/order_simple.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "(replayed: attempt was already terminal)")

	st, err := ledger.Open(db)
	require.NoError(t, err)
	defer st.Close()
	bal, err := st.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(85), bal.Credits)
}

func TestExecuteInsufficientCreditsExitCode(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")

	_, err := runCommand(t, "admin-topup",
		"--db", db, "--tenant", "42", "--amount", "3",
		"--method", "stripe", "--payment", "pi_small")
	require.NoError(t, err)

	_, err = runCommand(t, "execute",
		"--db", db, "--catalog", "testdata/catalog", "--out", t.TempDir(),
		"testdata/order_simple.yaml")
	require.Error(t, err)
	assert.Equal(t, cli.ExitInsufficientCredits, cli.GetExitCode(err))
}

func TestExecuteUnknownTenantExitCode(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")
	// Opening once creates the schema; the tenant is never enrolled.
	st, err := ledger.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = runCommand(t, "execute",
		"--db", db, "--catalog", "testdata/catalog", "--out", t.TempDir(),
		"testdata/order_simple.yaml")
	require.Error(t, err)
	assert.Equal(t, cli.ExitValidationError, cli.GetExitCode(err))
}

func TestCacheGC(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")
	cacheRoot := t.TempDir()
	ctx := context.Background()

	st, err := ledger.Open(db)
	require.NoError(t, err)
	governor := cache.NewGovernor(st.DB(), nil)

	// One expired indexed object, one live one, one orphan file.
	now := time.Now()
	for key, expires := range map[string]time.Time{
		"expired-key": now.Add(-time.Hour),
		"live-key":    now.Add(24 * time.Hour),
	} {
		_, err := governor.Register(ctx, cache.Entry{
			CacheKey: key, Tenant: "42", ModuleID: "150",
			CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: expires,
		})
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())
	for _, name := range []string{"expired-key", "live-key", "orphan-key"} {
		require.NoError(t, os.WriteFile(filepath.Join(cacheRoot, name), []byte("blob"), 0o644))
	}

	out, err := runCommand(t, "cache-gc", "--db", db, "--cache-root", cacheRoot)
	require.NoError(t, err)
	assert.Contains(t, out, "orphans registered: 1, eligible: 1, deleted: 1")

	_, err = os.Stat(filepath.Join(cacheRoot, "expired-key"))
	assert.True(t, os.IsNotExist(err), "expired object deleted")
	_, err = os.Stat(filepath.Join(cacheRoot, "live-key"))
	assert.NoError(t, err, "live object kept")
	_, err = os.Stat(filepath.Join(cacheRoot, "orphan-key"))
	assert.NoError(t, err, "orphan never deleted in the registering pass")

	// The confirmed deletion removed the index row; the orphan now has
	// an index row with its one-year hold.
	st, err = ledger.Open(db)
	require.NoError(t, err)
	defer st.Close()
	governor = cache.NewGovernor(st.DB(), nil)
	_, found, err := governor.Lookup(ctx, "expired-key", now)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = governor.Lookup(ctx, "orphan-key", now)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCacheGCDryRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")
	cacheRoot := t.TempDir()
	ctx := context.Background()

	st, err := ledger.Open(db)
	require.NoError(t, err)
	governor := cache.NewGovernor(st.DB(), nil)
	_, err = governor.Register(ctx, cache.Entry{
		CacheKey: "expired-key", Tenant: "42", ModuleID: "150",
		CreatedAt: time.Now().Add(-48 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, os.WriteFile(filepath.Join(cacheRoot, "expired-key"), []byte("blob"), 0o644))

	out, err := runCommand(t, "cache-gc", "--dry-run", "--db", db, "--cache-root", cacheRoot)
	require.NoError(t, err)
	assert.Contains(t, out, "eligible: 1, deleted: 0")

	_, err = os.Stat(filepath.Join(cacheRoot, "expired-key"))
	assert.NoError(t, err, "dry run deletes nothing")
}

func TestAdminRecompute(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")

	_, err := runCommand(t, "admin-topup",
		"--db", db, "--tenant", "42", "--amount", "40",
		"--method", "stripe", "--payment", "pi_1")
	require.NoError(t, err)

	st, err := ledger.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE tenant_balances SET credits_available = 999`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = runCommand(t, "admin-recompute", "--db", db)
	require.NoError(t, err)

	st, err = ledger.Open(db)
	require.NoError(t, err)
	defer st.Close()
	bal, err := st.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal.Credits)
}
