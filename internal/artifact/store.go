// Package artifact covers the artifact surface of a work order: the
// tagged release store collaborator, tenant asset manifests, and the
// eligibility gates that decide whether a step's output may be
// published at all.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/agenda-podcast/Platform/internal/ident"
)

// ErrManifestNotFound reports a release tag or asset folder with no
// manifest.
var ErrManifestNotFound = errors.New("manifest not found")

const manifestFile = "manifest.yaml"

// Item is one published file within a release.
type Item struct {
	Name   string `yaml:"name"`
	SHA256 string `yaml:"sha256"`
	Size   int64  `yaml:"size"`
}

// Manifest describes one work-order release: who owns it, which work
// order produced it, and the published items.
type Manifest struct {
	Tenant    string `yaml:"tenant_id"`
	WorkOrder string `yaml:"work_order_id"`
	Tag       string `yaml:"release_tag"`
	Items     []Item `yaml:"items"`
}

// Store is the external tagged artifact store. Release-mode reuse
// downloads by tag; purchased artifacts publish through it.
type Store interface {
	// ManifestByTag fetches a release manifest. ErrManifestNotFound
	// when no release carries the tag.
	ManifestByTag(ctx context.Context, tag string) (Manifest, error)
	// Publish uploads the named files and writes one manifest for the
	// release. Re-publishing an existing tag is an error.
	Publish(ctx context.Context, m Manifest, paths []string) (Manifest, error)
}

// LocalStore is a filesystem-backed Store. One directory per tag,
// holding the items plus manifest.yaml.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) ManifestByTag(_ context.Context, tag string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.root, tag, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, fmt.Errorf("%w: release tag %q", ErrManifestNotFound, tag)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read release manifest %q: %w", tag, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse release manifest %q: %w", tag, err)
	}
	return m, nil
}

func (s *LocalStore) Publish(_ context.Context, m Manifest, paths []string) (Manifest, error) {
	if m.Tag == "" {
		return Manifest{}, fmt.Errorf("publish release: empty tag")
	}
	dir := filepath.Join(s.root, m.Tag)
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
		return Manifest{}, fmt.Errorf("publish release: tag %q already exists", m.Tag)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("publish release %q: %w", m.Tag, err)
	}

	out := Manifest{
		Tenant:    ident.DisplayTenantID(m.Tenant),
		WorkOrder: m.WorkOrder,
		Tag:       m.Tag,
	}
	for _, src := range paths {
		item, err := copyItem(src, dir)
		if err != nil {
			return Manifest{}, fmt.Errorf("publish release %q: %w", m.Tag, err)
		}
		out.Items = append(out.Items, item)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return Manifest{}, fmt.Errorf("publish release %q: encode manifest: %w", m.Tag, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("publish release %q: write manifest: %w", m.Tag, err)
	}
	return out, nil
}

func copyItem(src, dir string) (Item, error) {
	in, err := os.Open(src)
	if err != nil {
		return Item{}, err
	}
	defer in.Close()

	name := filepath.Base(src)
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return Item{}, err
	}
	defer dst.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, h), in)
	if err != nil {
		return Item{}, fmt.Errorf("copy %s: %w", name, err)
	}
	return Item{Name: name, SHA256: hex.EncodeToString(h.Sum(nil)), Size: size}, nil
}

// AssetLibrary resolves tenant-local asset manifests for assets-mode
// reuse. Layout: <root>/<tenant display id>/<folder>/manifest.yaml.
type AssetLibrary struct {
	root string
}

func NewAssetLibrary(root string) *AssetLibrary {
	return &AssetLibrary{root: root}
}

// Manifest returns the asset manifest for a tenant folder, or
// found=false when the folder has none.
func (l *AssetLibrary) Manifest(_ context.Context, tenant, folder string) (Manifest, bool, error) {
	path := filepath.Join(l.root, ident.DisplayTenantID(tenant), folder, manifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read asset manifest %s/%s: %w", tenant, folder, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parse asset manifest %s/%s: %w", tenant, folder, err)
	}
	return m, true, nil
}
