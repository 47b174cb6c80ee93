// Package workorder defines the work-order schema: a tenant's
// declarative request to execute an ordered set of steps, loaded from
// YAML and validated before planning.
package workorder

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agenda-podcast/Platform/internal/ident"
)

// CompletionMode controls how step failures affect the whole order.
type CompletionMode string

const (
	// Strict fails the whole order on any failed step.
	Strict CompletionMode = "STRICT"
	// PartialAllowed lets the order complete partially.
	PartialAllowed CompletionMode = "PARTIAL_ALLOWED"
)

// Strategy selects how a step's output is obtained.
type Strategy string

const (
	StrategyNew     Strategy = "new"
	StrategyCache   Strategy = "cache"
	StrategyRelease Strategy = "release"
	StrategyAssets  Strategy = "assets"
)

// Step is one unit of work within a work order.
type Step struct {
	ID        string   `yaml:"step_id"`
	Module    string   `yaml:"module_id"`
	Kind      string   `yaml:"kind,omitempty"` // defaults to the module contract's kind
	DependsOn []string `yaml:"depends_on,omitempty"`
	Enabled   *bool    `yaml:"enabled,omitempty"` // nil means enabled

	Strategy      Strategy `yaml:"reuse,omitempty"` // defaults to "new"
	ReleaseTag    string   `yaml:"release_tag,omitempty"`
	AssetsFolder  string   `yaml:"assets_folder,omitempty"`
	RetentionDays int      `yaml:"cache_retention_days,omitempty"` // overrides the module default

	PurchaseArtifacts bool           `yaml:"purchase_artifacts,omitempty"`
	Inputs            map[string]any `yaml:"inputs,omitempty"`
}

// IsEnabled reports whether the step participates in execution.
func (s *Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// WorkOrder is immutable once execution starts; only derived status
// changes afterwards.
type WorkOrder struct {
	ID                 string         `yaml:"work_order_id"`
	Tenant             string         `yaml:"tenant_id"`
	Mode               CompletionMode `yaml:"completion_mode,omitempty"` // defaults to STRICT
	Enabled            *bool          `yaml:"enabled,omitempty"`
	ArtifactsRequested bool           `yaml:"artifacts_requested,omitempty"`
	PromoCodes         []string       `yaml:"promo_codes,omitempty"`
	Steps              []Step         `yaml:"steps"`
}

// IsEnabled reports whether the order is active (vs draft/disabled).
func (w *WorkOrder) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Step returns the step matching id on canonical key.
func (w *WorkOrder) Step(id string) (*Step, bool) {
	key := ident.CanonicalKey(id)
	for i := range w.Steps {
		if ident.CanonicalKey(w.Steps[i].ID) == key {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// Load reads a work order from a YAML file and runs structural
// validation. The artifact structural gate is separate (see the
// artifact package): it depends on module contracts.
func Load(path string) (*WorkOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work order: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates work-order YAML.
func Parse(data []byte) (*WorkOrder, error) {
	var wo WorkOrder
	if err := yaml.Unmarshal(data, &wo); err != nil {
		return nil, fmt.Errorf("parse work order: %w", err)
	}
	if err := wo.Validate(); err != nil {
		return nil, err
	}
	return &wo, nil
}

// Validate checks structure: required fields, duplicate step ids,
// completion mode, strategy/reference pairing.
func (w *WorkOrder) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("work_order_id is required")
	}
	if strings.TrimSpace(w.Tenant) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if w.Mode == "" {
		w.Mode = Strict
	}
	if w.Mode != Strict && w.Mode != PartialAllowed {
		return fmt.Errorf("completion_mode must be %s or %s, got %q", Strict, PartialAllowed, w.Mode)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("steps must be a non-empty list")
	}

	seen := map[string]string{}
	for i := range w.Steps {
		s := &w.Steps[i]
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("steps[%d].step_id is required", i)
		}
		key := ident.CanonicalKey(s.ID)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("duplicate step_id %q (same canonical key as %q)", s.ID, prev)
		}
		seen[key] = s.ID

		if strings.TrimSpace(s.Module) == "" {
			return fmt.Errorf("step %s: module_id is required", s.ID)
		}
		if s.Strategy == "" {
			s.Strategy = StrategyNew
		}
		switch s.Strategy {
		case StrategyNew, StrategyCache:
		case StrategyRelease:
			if strings.TrimSpace(s.ReleaseTag) == "" {
				return fmt.Errorf("step %s: reuse=release requires release_tag", s.ID)
			}
		case StrategyAssets:
			if strings.TrimSpace(s.AssetsFolder) == "" {
				return fmt.Errorf("step %s: reuse=assets requires assets_folder", s.ID)
			}
		default:
			return fmt.Errorf("step %s: unknown reuse strategy %q", s.ID, s.Strategy)
		}
		if s.RetentionDays < 0 {
			return fmt.Errorf("step %s: cache_retention_days must not be negative", s.ID)
		}
	}
	return nil
}
