package testutil

import (
	"path/filepath"
	"testing"

	"github.com/agenda-podcast/Platform/internal/ledger"
)

// OpenStore opens a fresh billing store in the test's temp directory
// and closes it when the test ends.
func OpenStore(t *testing.T) *ledger.Store {
	t.Helper()
	st, err := ledger.Open(filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}
