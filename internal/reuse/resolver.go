// Package reuse resolves each step's declared reuse strategy into an
// execution decision: run fresh, reuse prior output, or fail with a
// policy reason.
package reuse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenda-podcast/Platform/internal/artifact"
	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/reason"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// Outcome is the resolver's verdict for one step.
type Outcome string

const (
	// OutcomeExecute runs the module fresh.
	OutcomeExecute Outcome = "execute"
	// OutcomeCacheHit skips execution. Recorded as a FAILED step with
	// the skipped_cache reason so the refund path stays uniform.
	OutcomeCacheHit Outcome = "cache_hit"
	// OutcomeReuseRelease satisfies the step from a shared release.
	OutcomeReuseRelease Outcome = "reuse_release"
	// OutcomeReuseAssets satisfies the step from tenant-local assets.
	OutcomeReuseAssets Outcome = "reuse_assets"
	// OutcomeDenied fails the step with FailSlug's policy reason.
	OutcomeDenied Outcome = "denied"
)

// Decision is recorded on the StepRun: which strategy ran, what it
// resolved to, and the policy reason when it did not execute.
type Decision struct {
	Strategy   workorder.Strategy
	Outcome    Outcome
	CacheKey   string
	ReleaseRef string
	FailSlug   string
}

// ReleaseStore fetches release manifests by tag.
type ReleaseStore interface {
	ManifestByTag(ctx context.Context, tag string) (artifact.Manifest, error)
}

// AssetLibrary resolves tenant-local asset manifests by folder.
type AssetLibrary interface {
	Manifest(ctx context.Context, tenant, folder string) (artifact.Manifest, bool, error)
}

// CacheIndex answers cache-key lookups against the governed index.
type CacheIndex interface {
	Lookup(ctx context.Context, cacheKey string, now time.Time) (cache.Entry, bool, error)
}

// Resolver decides reuse for the steps of one attempt.
type Resolver struct {
	index    CacheIndex
	releases ReleaseStore
	assets   AssetLibrary
	logger   *slog.Logger
}

func NewResolver(index CacheIndex, releases ReleaseStore, assets AssetLibrary, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{index: index, releases: releases, assets: assets, logger: logger}
}

// Resolve maps a step's declared strategy to a Decision. Deterministic
// in its inputs: a replayed attempt with the same snapshot and index
// state reaches the same decision.
func (r *Resolver) Resolve(ctx context.Context, snap *catalog.Snapshot, tenant string, step *workorder.Step, contract catalog.ModuleContract, now time.Time) (Decision, error) {
	switch step.Strategy {
	case workorder.StrategyNew, "":
		return Decision{Strategy: workorder.StrategyNew, Outcome: OutcomeExecute}, nil

	case workorder.StrategyCache:
		key, err := CacheKey(tenant, contract.ID, contract.Version, step.Inputs)
		if err != nil {
			return Decision{}, fmt.Errorf("step %s: %w", step.ID, err)
		}
		_, hit, err := r.index.Lookup(ctx, key, now)
		if err != nil {
			return Decision{}, fmt.Errorf("step %s: cache lookup: %w", step.ID, err)
		}
		if hit {
			r.logger.Info("cache hit, skipping execution",
				"step", step.ID, "module", contract.ID, "cache_key", key)
			return Decision{
				Strategy: workorder.StrategyCache,
				Outcome:  OutcomeCacheHit,
				CacheKey: key,
				FailSlug: reason.SlugSkippedCache,
			}, nil
		}
		return Decision{Strategy: workorder.StrategyCache, Outcome: OutcomeExecute, CacheKey: key}, nil

	case workorder.StrategyRelease:
		m, err := r.releases.ManifestByTag(ctx, step.ReleaseTag)
		if err != nil {
			return Decision{}, fmt.Errorf("step %s: release %q: %w", step.ID, step.ReleaseTag, err)
		}
		if !snap.ShareAllowed(m.Tenant, tenant) {
			r.logger.Warn("release access denied",
				"step", step.ID, "release", step.ReleaseTag,
				"owner", ident.CanonicalKey(m.Tenant), "requester", ident.CanonicalKey(tenant))
			return Decision{
				Strategy:   workorder.StrategyRelease,
				Outcome:    OutcomeDenied,
				ReleaseRef: step.ReleaseTag,
				FailSlug:   reason.SlugUnauthorized,
			}, nil
		}
		return Decision{
			Strategy:   workorder.StrategyRelease,
			Outcome:    OutcomeReuseRelease,
			ReleaseRef: step.ReleaseTag,
		}, nil

	case workorder.StrategyAssets:
		_, found, err := r.assets.Manifest(ctx, tenant, step.AssetsFolder)
		if err != nil {
			return Decision{}, fmt.Errorf("step %s: assets %q: %w", step.ID, step.AssetsFolder, err)
		}
		if !found {
			return Decision{
				Strategy:   workorder.StrategyAssets,
				Outcome:    OutcomeDenied,
				ReleaseRef: step.AssetsFolder,
				FailSlug:   reason.SlugAssetsNotFound,
			}, nil
		}
		return Decision{
			Strategy:   workorder.StrategyAssets,
			Outcome:    OutcomeReuseAssets,
			ReleaseRef: step.AssetsFolder,
		}, nil

	default:
		return Decision{}, fmt.Errorf("step %s: unknown reuse strategy %q", step.ID, step.Strategy)
	}
}

// CacheKey derives the deterministic cache key for a step: sha256 over
// the canonical tenant, module, version and the normalized input
// parameters. JSON encoding with sorted map keys makes the input
// normalization stable across replays.
func CacheKey(tenant, moduleID, version string, inputs map[string]any) (string, error) {
	params, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("normalize cache inputs: %w", err)
	}
	msg := fmt.Sprintf("%s|%s|%s|%s",
		ident.CanonicalKey(tenant), ident.CanonicalKey(moduleID), version, params)
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:]), nil
}
