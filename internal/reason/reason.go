// Package reason defines the composite reason-code scheme and the
// fail/refundable policy attached to each code.
//
// A reason code classifies why a step reached an outcome. Policy is
// resolved against an immutable snapshot loaded at attempt start;
// unknown codes are a configuration error caught at load time, never
// defaulted at execution time.
package reason

import (
	"fmt"
	"strings"
)

// Code is a stable 12-digit composite reason code: GCCMMMMMMRRR.
//
//	G       scope bit: 0 = global, 1 = module-scoped
//	CC      category
//	MMMMMM  module marker (all zeros for global codes)
//	RRR     sequence within (scope, category, module)
type Code string

// CodeLen is the fixed digit length of a reason code.
const CodeLen = 12

// Scope identifies whether a code is global or bound to one module.
type Scope int

const (
	ScopeGlobal Scope = 0
	ScopeModule Scope = 1
)

// Parts is the decoded form of a Code.
type Parts struct {
	Scope    Scope
	Category int    // 0..99
	Module   string // 6-digit module marker, "000000" for global
	Sequence int    // 0..999
}

// Well-known global reason slugs used by the engine itself.
const (
	SlugNotEnoughCredits = "not_enough_credits"
	SlugSkippedCache     = "skipped_cache"
	SlugModuleFailed     = "module_failed"
	SlugUnauthorized     = "unauthorized_release_access"
	SlugAssetsNotFound   = "assets_not_found"
	SlugArtifactGate     = "artifact_not_supported"
)

// Parse decodes and validates a reason code.
func Parse(c Code) (Parts, error) {
	s := strings.TrimSpace(string(c))
	if len(s) != CodeLen {
		return Parts{}, fmt.Errorf("reason code %q: want %d digits, got %d", s, CodeLen, len(s))
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Parts{}, fmt.Errorf("reason code %q: non-digit character %q", s, r)
		}
	}
	var p Parts
	switch s[0] {
	case '0':
		p.Scope = ScopeGlobal
	case '1':
		p.Scope = ScopeModule
	default:
		return Parts{}, fmt.Errorf("reason code %q: scope bit must be 0 or 1", s)
	}
	p.Category = int(s[1]-'0')*10 + int(s[2]-'0')
	p.Module = s[3:9]
	if p.Scope == ScopeGlobal && p.Module != "000000" {
		return Parts{}, fmt.Errorf("reason code %q: global code carries module marker %s", s, p.Module)
	}
	p.Sequence = int(s[9]-'0')*100 + int(s[10]-'0')*10 + int(s[11]-'0')
	return p, nil
}

// Format encodes Parts back into a Code. The inverse of Parse.
func Format(p Parts) (Code, error) {
	if p.Category < 0 || p.Category > 99 {
		return "", fmt.Errorf("category out of range: %d", p.Category)
	}
	if p.Sequence < 0 || p.Sequence > 999 {
		return "", fmt.Errorf("sequence out of range: %d", p.Sequence)
	}
	mod := p.Module
	if p.Scope == ScopeGlobal {
		mod = "000000"
	}
	if len(mod) != 6 {
		return "", fmt.Errorf("module marker must be 6 digits, got %q", mod)
	}
	scope := 0
	if p.Scope == ScopeModule {
		scope = 1
	}
	return Code(fmt.Sprintf("%d%02d%s%03d", scope, p.Category, mod, p.Sequence)), nil
}

// Policy is the behavior attached to a reason code.
type Policy struct {
	// Fail forces the step to FAILED. A false value means the step
	// completes with the reason recorded as informational.
	Fail bool
	// Refundable permits a refund for a failed step carrying this
	// code. Consulted only when the step actually failed.
	Refundable bool
}

// Resolver answers policy lookups against a frozen catalog snapshot.
// It refuses to invent policy: every code it is asked about must have
// been present at construction.
type Resolver struct {
	policies map[Code]Policy
	bySlug   map[string]Code
}

// NewResolver builds a resolver from the catalog's code→policy table
// and slug→code table. Every code is validated; a malformed code fails
// construction so configuration errors surface before execution.
func NewResolver(policies map[Code]Policy, bySlug map[string]Code) (*Resolver, error) {
	for c := range policies {
		if _, err := Parse(c); err != nil {
			return nil, fmt.Errorf("reason policy table: %w", err)
		}
	}
	for slug, c := range bySlug {
		if _, ok := policies[c]; !ok {
			return nil, fmt.Errorf("reason slug %q maps to code %s with no policy", slug, c)
		}
	}
	p := make(map[Code]Policy, len(policies))
	for c, pol := range policies {
		p[c] = pol
	}
	s := make(map[string]Code, len(bySlug))
	for slug, c := range bySlug {
		s[slug] = c
	}
	return &Resolver{policies: p, bySlug: s}, nil
}

// Lookup returns the policy for a code. Unknown codes are an error:
// by the time Lookup runs, configuration validation has already
// guaranteed every reachable code exists.
func (r *Resolver) Lookup(c Code) (Policy, error) {
	pol, ok := r.policies[c]
	if !ok {
		return Policy{}, fmt.Errorf("unknown reason code: %s", c)
	}
	return pol, nil
}

// CodeForSlug resolves a stable reason slug to its code.
func (r *Resolver) CodeForSlug(slug string) (Code, error) {
	c, ok := r.bySlug[slug]
	if !ok {
		return "", fmt.Errorf("unknown reason slug: %q", slug)
	}
	return c, nil
}

// Known reports whether a code exists in the snapshot. Used by catalog
// validation to reject work orders referencing unregistered codes.
func (r *Resolver) Known(c Code) bool {
	_, ok := r.policies[c]
	return ok
}
