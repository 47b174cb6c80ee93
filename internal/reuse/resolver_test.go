package reuse_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform/internal/artifact"
	"github.com/agenda-podcast/Platform/internal/cache"
	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/reason"
	"github.com/agenda-podcast/Platform/internal/reuse"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeIndex struct {
	entries map[string]cache.Entry
}

func (f *fakeIndex) Lookup(_ context.Context, key string, now time.Time) (cache.Entry, bool, error) {
	e, ok := f.entries[key]
	if !ok || !e.ExpiresAt.After(now) {
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

type fakeReleases struct {
	manifests map[string]artifact.Manifest
}

func (f *fakeReleases) ManifestByTag(_ context.Context, tag string) (artifact.Manifest, error) {
	m, ok := f.manifests[tag]
	if !ok {
		return artifact.Manifest{}, artifact.ErrManifestNotFound
	}
	return m, nil
}

type fakeAssets struct {
	folders map[string]artifact.Manifest
}

func (f *fakeAssets) Manifest(_ context.Context, tenant, folder string) (artifact.Manifest, bool, error) {
	m, ok := f.folders[tenant+"/"+folder]
	return m, ok, nil
}

func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.Load("testdata/catalog")
	require.NoError(t, err)
	return snap
}

func newResolver(index *fakeIndex, releases *fakeReleases, assets *fakeAssets) *reuse.Resolver {
	if index == nil {
		index = &fakeIndex{}
	}
	if releases == nil {
		releases = &fakeReleases{}
	}
	if assets == nil {
		assets = &fakeAssets{}
	}
	return reuse.NewResolver(index, releases, assets, nil)
}

func TestResolveNewAlwaysExecutes(t *testing.T) {
	r := newResolver(nil, nil, nil)
	snap := testSnapshot(t)
	mc, err := snap.Module("000101")
	require.NoError(t, err)

	d, err := r.Resolve(context.Background(), snap, "42",
		&workorder.Step{ID: "s1", Module: "000101", Strategy: workorder.StrategyNew}, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeExecute, d.Outcome)
	assert.Empty(t, d.CacheKey)
}

func TestResolveCacheMissCarriesKey(t *testing.T) {
	r := newResolver(nil, nil, nil)
	snap := testSnapshot(t)
	mc, err := snap.Module("000150")
	require.NoError(t, err)

	step := &workorder.Step{ID: "s1", Module: "000150", Strategy: workorder.StrategyCache,
		Inputs: map[string]any{"lang": "en"}}
	d, err := r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeExecute, d.Outcome)
	assert.NotEmpty(t, d.CacheKey, "a miss still records the key so the fresh output can be registered")
}

func TestResolveCacheHit(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000150")
	require.NoError(t, err)

	step := &workorder.Step{ID: "s1", Module: "000150", Strategy: workorder.StrategyCache,
		Inputs: map[string]any{"lang": "en"}}
	key, err := reuse.CacheKey("42", mc.ID, mc.Version, step.Inputs)
	require.NoError(t, err)

	index := &fakeIndex{entries: map[string]cache.Entry{
		key: {CacheKey: key, ExpiresAt: epoch.Add(time.Hour)},
	}}
	r := newResolver(index, nil, nil)

	d, err := r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeCacheHit, d.Outcome)
	assert.Equal(t, key, d.CacheKey)
	assert.Equal(t, reason.SlugSkippedCache, d.FailSlug)
}

func TestResolveCacheExpiredEntryExecutes(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000150")
	require.NoError(t, err)

	step := &workorder.Step{ID: "s1", Module: "000150", Strategy: workorder.StrategyCache}
	key, err := reuse.CacheKey("42", mc.ID, mc.Version, nil)
	require.NoError(t, err)

	index := &fakeIndex{entries: map[string]cache.Entry{
		key: {CacheKey: key, ExpiresAt: epoch.Add(-time.Hour)},
	}}
	r := newResolver(index, nil, nil)

	d, err := r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeExecute, d.Outcome)
}

func TestResolveReleaseAuthorized(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000101")
	require.NoError(t, err)

	releases := &fakeReleases{manifests: map[string]artifact.Manifest{
		"rel-1": {Tenant: "0000000042", Tag: "rel-1"},
	}}
	r := newResolver(nil, releases, nil)

	// Catalog grants owner 42 → reuser 7.
	step := &workorder.Step{ID: "s1", Module: "000101",
		Strategy: workorder.StrategyRelease, ReleaseTag: "rel-1"}
	d, err := r.Resolve(context.Background(), snap, "7", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeReuseRelease, d.Outcome)
	assert.Equal(t, "rel-1", d.ReleaseRef)
}

func TestResolveReleaseDenied(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000101")
	require.NoError(t, err)

	releases := &fakeReleases{manifests: map[string]artifact.Manifest{
		"rel-1": {Tenant: "0000000007", Tag: "rel-1"},
	}}
	r := newResolver(nil, releases, nil)

	// No grant 7 → 42: the step fails with the policy reason instead of
	// erroring out of the attempt.
	step := &workorder.Step{ID: "s1", Module: "000101",
		Strategy: workorder.StrategyRelease, ReleaseTag: "rel-1"}
	d, err := r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeDenied, d.Outcome)
	assert.Equal(t, reason.SlugUnauthorized, d.FailSlug)
}

func TestResolveReleaseOwnTenant(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000101")
	require.NoError(t, err)

	releases := &fakeReleases{manifests: map[string]artifact.Manifest{
		"rel-1": {Tenant: "42", Tag: "rel-1"},
	}}
	r := newResolver(nil, releases, nil)

	step := &workorder.Step{ID: "s1", Module: "000101",
		Strategy: workorder.StrategyRelease, ReleaseTag: "rel-1"}
	d, err := r.Resolve(context.Background(), snap, "0000000042", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeReuseRelease, d.Outcome, "self-reuse needs no grant")
}

func TestResolveReleaseMissingManifestIsError(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000101")
	require.NoError(t, err)
	r := newResolver(nil, nil, nil)

	step := &workorder.Step{ID: "s1", Module: "000101",
		Strategy: workorder.StrategyRelease, ReleaseTag: "ghost"}
	_, err = r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, artifact.ErrManifestNotFound))
}

func TestResolveAssets(t *testing.T) {
	snap := testSnapshot(t)
	mc, err := snap.Module("000101")
	require.NoError(t, err)

	assets := &fakeAssets{folders: map[string]artifact.Manifest{
		"42/intros": {Tenant: "42"},
	}}
	r := newResolver(nil, nil, assets)

	step := &workorder.Step{ID: "s1", Module: "000101",
		Strategy: workorder.StrategyAssets, AssetsFolder: "intros"}
	d, err := r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeReuseAssets, d.Outcome)

	step = &workorder.Step{ID: "s2", Module: "000101",
		Strategy: workorder.StrategyAssets, AssetsFolder: "missing"}
	d, err = r.Resolve(context.Background(), snap, "42", step, mc, epoch)
	require.NoError(t, err)
	assert.Equal(t, reuse.OutcomeDenied, d.Outcome)
	assert.Equal(t, reason.SlugAssetsNotFound, d.FailSlug)
}

func TestCacheKeyDeterministic(t *testing.T) {
	inputs := map[string]any{"b": 2, "a": 1}
	k1, err := reuse.CacheKey("42", "000150", "1.0.0", inputs)
	require.NoError(t, err)
	k2, err := reuse.CacheKey("42", "000150", "1.0.0", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "map declaration order must not matter")
	assert.Len(t, k1, 64)
}

func TestCacheKeyCanonicalizesIdentifiers(t *testing.T) {
	k1, err := reuse.CacheKey("0000000042", "000150", "1.0.0", nil)
	require.NoError(t, err)
	k2, err := reuse.CacheKey("42", "150", "1.0.0", nil)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestCacheKeyVariesByDimension(t *testing.T) {
	base, err := reuse.CacheKey("42", "150", "1.0.0", nil)
	require.NoError(t, err)
	for name, args := range map[string][3]string{
		"tenant":  {"43", "150", "1.0.0"},
		"module":  {"42", "151", "1.0.0"},
		"version": {"42", "150", "1.0.1"},
	} {
		k, err := reuse.CacheKey(args[0], args[1], args[2], nil)
		require.NoError(t, err)
		assert.NotEqual(t, base, k, "%s must affect the key", name)
	}
	k, err := reuse.CacheKey("42", "150", "1.0.0", map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.NotEqual(t, base, k, "inputs must affect the key")
}
