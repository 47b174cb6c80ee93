package catalog

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/reason"
)

// CUE decode targets. Field names follow the catalog schema, not the
// Go types, so the on-disk format stays stable if the types move.

type cueModule struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Kind      string   `json:"kind"`
	Artifacts bool     `json:"artifacts"`
	DependsOn []string `json:"depends_on"`
	Cache     struct {
		Enabled       bool `json:"enabled"`
		RetentionDays int  `json:"retention_days"`
	} `json:"cache"`
	Price struct {
		Run          int64 `json:"run"`
		ArtifactSave int64 `json:"artifact_save"`
	} `json:"price"`
}

type cueReason struct {
	Slug       string `json:"slug"`
	Fail       bool   `json:"fail"`
	Refundable bool   `json:"refundable"`
}

type cueShare struct {
	Owner  string `json:"owner"`
	Reuser string `json:"reuser"`
}

type cueDeal struct {
	Amount int64 `json:"amount"`
}

// Load reads and validates the catalog from a directory of CUE files.
//
// Top-level fields:
//
//	module:            per-module contracts keyed by module id
//	reason:            reason policies keyed by 12-digit code
//	sharing:           list of {owner, reuser} grants
//	deal:              promo deals keyed by promo code
//	artifact_disabled: module ids with artifacts administratively off
//
// Any schema violation, malformed reason code, missing price or
// dangling reference fails the load. Execution never starts against a
// half-valid catalog.
func Load(dir string) (*Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog path is not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading catalog CUE: %w", inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building catalog value: %w", err)
	}

	snap := &Snapshot{
		modules:          map[string]ModuleContract{},
		artifactDisabled: map[string]bool{},
		deals:            map[string]Deal{},
		sharing:          map[SharePair]bool{},
	}

	if err := decodeModules(value, snap); err != nil {
		return nil, err
	}
	if err := decodeReasons(value, snap); err != nil {
		return nil, err
	}
	if err := decodeSharing(value, snap); err != nil {
		return nil, err
	}
	if err := decodeDeals(value, snap); err != nil {
		return nil, err
	}
	if err := decodeArtifactDisabled(value, snap); err != nil {
		return nil, err
	}

	if err := snap.validate(); err != nil {
		return nil, fmt.Errorf("catalog validation: %w", err)
	}
	return snap, nil
}

func decodeModules(value cue.Value, snap *Snapshot) error {
	modules := value.LookupPath(cue.ParsePath("module"))
	if !modules.Exists() {
		return fmt.Errorf("catalog has no module contracts")
	}
	iter, err := modules.Fields()
	if err != nil {
		return fmt.Errorf("iterating modules: %w", err)
	}
	for iter.Next() {
		var cm cueModule
		if err := iter.Value().Decode(&cm); err != nil {
			return fmt.Errorf("module %q: %w", iter.Label(), err)
		}
		id := iter.Label()
		key := ident.CanonicalKey(id)
		if _, dup := snap.modules[key]; dup {
			return fmt.Errorf("module %q: duplicate canonical key %s", id, key)
		}
		kind := cm.Kind
		if kind == "" {
			kind = string(KindTransform)
		}
		snap.modules[key] = ModuleContract{
			ID:                 id,
			Name:               cm.Name,
			Version:            cm.Version,
			Kind:               StepKind(kind),
			ArtifactSupport:    cm.Artifacts,
			CacheEnabled:       cm.Cache.Enabled,
			CacheRetentionDays: cm.Cache.RetentionDays,
			DependsOn:          cm.DependsOn,
			RunPrice:           cm.Price.Run,
			ArtifactSavePrice:  cm.Price.ArtifactSave,
		}
	}
	return nil
}

func decodeReasons(value cue.Value, snap *Snapshot) error {
	reasons := value.LookupPath(cue.ParsePath("reason"))
	if !reasons.Exists() {
		return fmt.Errorf("catalog has no reason policies")
	}
	policies := map[reason.Code]reason.Policy{}
	bySlug := map[string]reason.Code{}
	iter, err := reasons.Fields()
	if err != nil {
		return fmt.Errorf("iterating reasons: %w", err)
	}
	for iter.Next() {
		code := reason.Code(iter.Label())
		var cr cueReason
		if err := iter.Value().Decode(&cr); err != nil {
			return fmt.Errorf("reason %s: %w", code, err)
		}
		if cr.Slug == "" {
			return fmt.Errorf("reason %s: slug is required", code)
		}
		if prev, dup := bySlug[cr.Slug]; dup {
			return fmt.Errorf("reason slug %q declared for both %s and %s", cr.Slug, prev, code)
		}
		policies[code] = reason.Policy{Fail: cr.Fail, Refundable: cr.Refundable}
		bySlug[cr.Slug] = code
	}
	res, err := reason.NewResolver(policies, bySlug)
	if err != nil {
		return err
	}
	// The engine depends on these slugs existing; a catalog without
	// them cannot express its own terminal outcomes.
	for _, slug := range []string{
		reason.SlugNotEnoughCredits,
		reason.SlugSkippedCache,
		reason.SlugModuleFailed,
		reason.SlugUnauthorized,
		reason.SlugAssetsNotFound,
		reason.SlugArtifactGate,
	} {
		if _, err := res.CodeForSlug(slug); err != nil {
			return fmt.Errorf("catalog must declare reason slug %q", slug)
		}
	}
	snap.reasons = res
	return nil
}

func decodeSharing(value cue.Value, snap *Snapshot) error {
	sharing := value.LookupPath(cue.ParsePath("sharing"))
	if !sharing.Exists() {
		return nil
	}
	var pairs []cueShare
	if err := sharing.Decode(&pairs); err != nil {
		return fmt.Errorf("sharing: %w", err)
	}
	for i, p := range pairs {
		if p.Owner == "" || p.Reuser == "" {
			return fmt.Errorf("sharing[%d]: owner and reuser are required", i)
		}
		snap.sharing[SharePair{
			Owner:  ident.CanonicalKey(p.Owner),
			Reuser: ident.CanonicalKey(p.Reuser),
		}] = true
	}
	return nil
}

func decodeDeals(value cue.Value, snap *Snapshot) error {
	deals := value.LookupPath(cue.ParsePath("deal"))
	if !deals.Exists() {
		return nil
	}
	iter, err := deals.Fields()
	if err != nil {
		return fmt.Errorf("iterating deals: %w", err)
	}
	for iter.Next() {
		code := iter.Label()
		var cd cueDeal
		if err := iter.Value().Decode(&cd); err != nil {
			return fmt.Errorf("deal %q: %w", code, err)
		}
		snap.deals[code] = Deal{Code: code, Amount: cd.Amount}
	}
	return nil
}

func decodeArtifactDisabled(value cue.Value, snap *Snapshot) error {
	disabled := value.LookupPath(cue.ParsePath("artifact_disabled"))
	if !disabled.Exists() {
		return nil
	}
	var ids []string
	if err := disabled.Decode(&ids); err != nil {
		return fmt.Errorf("artifact_disabled: %w", err)
	}
	for _, id := range ids {
		snap.artifactDisabled[ident.CanonicalKey(id)] = true
	}
	return nil
}
