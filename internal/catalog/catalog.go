// Package catalog loads the platform catalog (module contracts,
// prices, reason policies, tenant sharing grants and promo deals)
// into an immutable per-attempt snapshot.
//
// Nothing in the engine consults ambient state mid-execution: a given
// attempt is a pure function of its snapshot plus inputs. The snapshot
// is loaded once, validated completely (unknown reason codes, missing
// price rows and dangling references are load-time errors), and passed
// explicitly into every resolver call.
package catalog

import (
	"fmt"

	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/reason"
)

// StepKind classifies a module's role in a work order.
type StepKind string

const (
	KindTransform StepKind = "transform"
	KindPackaging StepKind = "packaging"
	KindDelivery  StepKind = "delivery"
	KindOther     StepKind = "other"
)

// ModuleContract declares a module's execution contract: whether it
// supports downloadable artifacts, its cache policy, its declared
// dependencies and its fixed credit prices.
type ModuleContract struct {
	ID                 string
	Name               string
	Version            string
	Kind               StepKind
	ArtifactSupport    bool
	CacheEnabled       bool
	CacheRetentionDays int
	DependsOn          []string
	RunPrice           int64
	ArtifactSavePrice  int64
}

// Deal is a promotional discount applied to a work order as a negative
// line item.
type Deal struct {
	Code   string
	Amount int64
}

// SharePair authorizes one tenant to reuse another tenant's release
// outputs. Owner grants, reuser consumes.
type SharePair struct {
	Owner  string
	Reuser string
}

// Snapshot is the frozen catalog for one attempt.
type Snapshot struct {
	modules          map[string]ModuleContract
	artifactDisabled map[string]bool
	deals            map[string]Deal
	sharing          map[SharePair]bool
	reasons          *reason.Resolver
}

// Module returns the contract for a module reference, matched on
// canonical key. Missing contracts are an error: executing a step
// against an unknown module would mean guessing a price.
func (s *Snapshot) Module(ref string) (ModuleContract, error) {
	mc, ok := s.modules[ident.CanonicalKey(ref)]
	if !ok {
		return ModuleContract{}, fmt.Errorf("unknown module: %q", ref)
	}
	return mc, nil
}

// ArtifactsDisabled reports whether the platform has administratively
// disabled artifacts for a module. Absence of a disable record means
// enabled.
func (s *Snapshot) ArtifactsDisabled(moduleRef string) bool {
	return s.artifactDisabled[ident.CanonicalKey(moduleRef)]
}

// Deal returns the promo deal for a code.
func (s *Snapshot) Deal(code string) (Deal, bool) {
	d, ok := s.deals[code]
	return d, ok
}

// ShareAllowed reports whether reuser may consume owner's release
// outputs. Self-pairs are always permitted.
func (s *Snapshot) ShareAllowed(owner, reuser string) bool {
	o, r := ident.CanonicalKey(owner), ident.CanonicalKey(reuser)
	if o == r {
		return true
	}
	return s.sharing[SharePair{Owner: o, Reuser: r}]
}

// Reasons returns the reason policy resolver.
func (s *Snapshot) Reasons() *reason.Resolver {
	return s.reasons
}

// validate runs the cross-reference checks that make the snapshot safe
// to execute against.
func (s *Snapshot) validate() error {
	for id, mc := range s.modules {
		if mc.RunPrice < 0 || mc.ArtifactSavePrice < 0 {
			return fmt.Errorf("module %s: negative price", id)
		}
		if mc.CacheEnabled && mc.CacheRetentionDays <= 0 {
			return fmt.Errorf("module %s: cache enabled with retention %d days", id, mc.CacheRetentionDays)
		}
		switch mc.Kind {
		case KindTransform, KindPackaging, KindDelivery, KindOther:
		default:
			return fmt.Errorf("module %s: unknown kind %q", id, mc.Kind)
		}
		for _, dep := range mc.DependsOn {
			if _, ok := s.modules[ident.CanonicalKey(dep)]; !ok {
				return fmt.Errorf("module %s: declared dependency %q is not in the catalog", id, dep)
			}
		}
	}
	for id := range s.artifactDisabled {
		if _, ok := s.modules[id]; !ok {
			return fmt.Errorf("artifact disable record for unknown module %q", id)
		}
	}
	for _, d := range s.deals {
		if d.Amount <= 0 {
			return fmt.Errorf("deal %s: amount must be positive", d.Code)
		}
	}
	return nil
}
