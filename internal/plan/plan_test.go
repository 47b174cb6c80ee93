package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform/internal/workorder"
)

func order(t *testing.T, wo *workorder.WorkOrder, moduleDeps map[string][]string) []string {
	t.Helper()
	steps, err := Order(wo, moduleDeps)
	require.NoError(t, err)
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func mkOrder(steps ...workorder.Step) *workorder.WorkOrder {
	return &workorder.WorkOrder{ID: "wo-1", Tenant: "42", Steps: steps}
}

func TestOrderRespectsStepDependencies(t *testing.T) {
	wo := mkOrder(
		workorder.Step{ID: "c", Module: "3", DependsOn: []string{"b"}},
		workorder.Step{ID: "b", Module: "2", DependsOn: []string{"a"}},
		workorder.Step{ID: "a", Module: "1"},
	)
	assert.Equal(t, []string{"a", "b", "c"}, order(t, wo, nil))
}

func TestOrderBreaksTiesByDeclarationOrder(t *testing.T) {
	wo := mkOrder(
		workorder.Step{ID: "z", Module: "1"},
		workorder.Step{ID: "m", Module: "2"},
		workorder.Step{ID: "a", Module: "3"},
	)
	assert.Equal(t, []string{"z", "m", "a"}, order(t, wo, nil))
}

func TestOrderIsDeterministic(t *testing.T) {
	wo := mkOrder(
		workorder.Step{ID: "s1", Module: "101"},
		workorder.Step{ID: "s2", Module: "102", DependsOn: []string{"s1"}},
		workorder.Step{ID: "s3", Module: "103"},
		workorder.Step{ID: "s4", Module: "104", DependsOn: []string{"s3", "s1"}},
	)
	first := order(t, wo, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, order(t, wo, nil))
	}
}

func TestOrderAppliesModuleLevelDependencies(t *testing.T) {
	// Module 102 declares a dependency on module 101; the step binding
	// comes from the catalog, not the work order.
	wo := mkOrder(
		workorder.Step{ID: "s2", Module: "102"},
		workorder.Step{ID: "s1", Module: "101"},
	)
	deps := map[string][]string{"102": {"101"}}
	assert.Equal(t, []string{"s1", "s2"}, order(t, wo, deps))
}

func TestOrderModuleDependencyWithoutMatchingStep(t *testing.T) {
	// No step runs module 101: the declaration simply does not bind.
	wo := mkOrder(workorder.Step{ID: "s2", Module: "102"})
	deps := map[string][]string{"102": {"101"}}
	assert.Equal(t, []string{"s2"}, order(t, wo, deps))
}

func TestOrderMatchesDependenciesOnCanonicalKeys(t *testing.T) {
	wo := mkOrder(
		workorder.Step{ID: "02", Module: "102", DependsOn: []string{"1"}},
		workorder.Step{ID: "01", Module: "101"},
	)
	assert.Equal(t, []string{"01", "02"}, order(t, wo, nil))
}

func TestOrderSkipsDisabledSteps(t *testing.T) {
	off := false
	wo := mkOrder(
		workorder.Step{ID: "s1", Module: "101", Enabled: &off},
		workorder.Step{ID: "s2", Module: "102"},
	)
	assert.Equal(t, []string{"s2"}, order(t, wo, nil))
}

func TestOrderUnknownDependency(t *testing.T) {
	wo := mkOrder(workorder.Step{ID: "s1", Module: "101", DependsOn: []string{"ghost"}})
	_, err := Order(wo, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDependency))
}

func TestOrderCycleDetection(t *testing.T) {
	wo := mkOrder(
		workorder.Step{ID: "a", Module: "1", DependsOn: []string{"b"}},
		workorder.Step{ID: "b", Module: "2", DependsOn: []string{"a"}},
	)
	_, err := Order(wo, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.GreaterOrEqual(t, len(ce.Path), 3, "path shows the loop, e.g. a → b → a")
	assert.Equal(t, ce.Path[0], ce.Path[len(ce.Path)-1])
}
