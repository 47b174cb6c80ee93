package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	RunDir(t, "testdata/scenarios")
}

func TestLoadScenarioRejectsMissingCatalog(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/does-not-exist.yaml")
	require.Error(t, err)
}
