package workorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	wo, err := Parse([]byte(`
work_order_id: wo-1
tenant_id: "42"
steps:
  - step_id: s1
    module_id: "000101"
`))
	require.NoError(t, err)
	assert.Equal(t, Strict, wo.Mode)
	assert.True(t, wo.IsEnabled())
	assert.Equal(t, StrategyNew, wo.Steps[0].Strategy)
	assert.True(t, wo.Steps[0].IsEnabled())
}

func TestParseFullOrder(t *testing.T) {
	wo, err := Parse([]byte(`
work_order_id: wo-2
tenant_id: "42"
completion_mode: PARTIAL_ALLOWED
artifacts_requested: true
promo_codes: [LAUNCH10, SPRING5]
steps:
  - step_id: s1
    module_id: "000101"
    reuse: cache
    cache_retention_days: 7
  - step_id: s2
    module_id: "000201"
    kind: packaging
    depends_on: [s1]
    purchase_artifacts: true
  - step_id: s3
    module_id: "000301"
    enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, PartialAllowed, wo.Mode)
	assert.Equal(t, []string{"LAUNCH10", "SPRING5"}, wo.PromoCodes)
	assert.Equal(t, StrategyCache, wo.Steps[0].Strategy)
	assert.Equal(t, 7, wo.Steps[0].RetentionDays)
	assert.True(t, wo.Steps[1].PurchaseArtifacts)
	assert.False(t, wo.Steps[2].IsEnabled())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing order id", `
tenant_id: "42"
steps: [{step_id: s1, module_id: "000101"}]`},
		{"missing tenant", `
work_order_id: wo-1
steps: [{step_id: s1, module_id: "000101"}]`},
		{"no steps", `
work_order_id: wo-1
tenant_id: "42"
steps: []`},
		{"bad completion mode", `
work_order_id: wo-1
tenant_id: "42"
completion_mode: MAYBE
steps: [{step_id: s1, module_id: "000101"}]`},
		{"missing module", `
work_order_id: wo-1
tenant_id: "42"
steps: [{step_id: s1}]`},
		{"release without tag", `
work_order_id: wo-1
tenant_id: "42"
steps: [{step_id: s1, module_id: "000101", reuse: release}]`},
		{"assets without folder", `
work_order_id: wo-1
tenant_id: "42"
steps: [{step_id: s1, module_id: "000101", reuse: assets}]`},
		{"unknown strategy", `
work_order_id: wo-1
tenant_id: "42"
steps: [{step_id: s1, module_id: "000101", reuse: clone}]`},
		{"negative retention", `
work_order_id: wo-1
tenant_id: "42"
steps: [{step_id: s1, module_id: "000101", cache_retention_days: -1}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidateRejectsDuplicateCanonicalStepIDs(t *testing.T) {
	// "01" and "1" collapse to the same canonical key.
	_, err := Parse([]byte(`
work_order_id: wo-1
tenant_id: "42"
steps:
  - {step_id: "01", module_id: "000101"}
  - {step_id: "1", module_id: "000102"}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step_id")
}

func TestStepLookupUsesCanonicalKey(t *testing.T) {
	wo, err := Parse([]byte(`
work_order_id: wo-1
tenant_id: "42"
steps:
  - {step_id: "007", module_id: "000101"}
`))
	require.NoError(t, err)
	s, ok := wo.Step("7")
	require.True(t, ok)
	assert.Equal(t, "007", s.ID)
	_, ok = wo.Step("8")
	assert.False(t, ok)
}
