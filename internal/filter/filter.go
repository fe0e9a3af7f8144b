// Package filter provides resource filtering for tagsweep listings.
package filter

import (
	"strings"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Config describes which resources to keep.
type Config struct {
	ExcludeKinds []string
	NamePrefix   string
	NameContains string
	Attrs        map[string]string
	IncludeTags  map[string]string
	ExcludeTags  map[string]string
}

// Filter controls which kinds to list and which resources to keep.
// A nil *Filter matches everything.
type Filter struct {
	excludeKinds map[resource.Kind]bool
	namePrefix   string
	nameContains string
	attrs        map[string]string
	includeTags  map[string]string
	excludeTags  map[string]string
}

// New creates a new Filter from the provided configuration.
func New(cfg Config) *Filter {
	excludeMap := make(map[resource.Kind]bool)
	for _, k := range cfg.ExcludeKinds {
		excludeMap[resource.Kind(k)] = true
	}

	return &Filter{
		excludeKinds: excludeMap,
		namePrefix:   cfg.NamePrefix,
		nameContains: cfg.NameContains,
		attrs:        cfg.Attrs,
		includeTags:  cfg.IncludeTags,
		excludeTags:  cfg.ExcludeTags,
	}
}

// ShouldListKind returns true if the given kind should be listed.
func (f *Filter) ShouldListKind(kind resource.Kind) bool {
	if f == nil {
		return true
	}
	return !f.excludeKinds[kind]
}

// MatchName checks the name prefix and substring filters.
func (f *Filter) MatchName(name string) bool {
	if f == nil {
		return true
	}
	if f.namePrefix != "" && !strings.HasPrefix(name, f.namePrefix) {
		return false
	}
	if f.nameContains != "" && !strings.Contains(name, f.nameContains) {
		return false
	}
	return true
}

// MatchAttrs requires every configured attribute to be equal.
func (f *Filter) MatchAttrs(attrs map[string]string) bool {
	if f == nil {
		return true
	}
	for k, v := range f.attrs {
		if attrs == nil || attrs[k] != v {
			return false
		}
	}
	return true
}

// MatchTags applies include and exclude tag filters.
func (f *Filter) MatchTags(tags map[string]string) bool {
	if f == nil {
		return true
	}

	// Include tags (whitelist) - ALL must match
	for k, v := range f.includeTags {
		if tags == nil || tags[k] != v {
			return false
		}
	}

	// Exclude tags (blacklist) - ANY match excludes
	for k, v := range f.excludeTags {
		if tags != nil && tags[k] == v {
			return false
		}
	}

	return true
}

// HasTagFilters reports whether tag filters must be checked once tags are known.
func (f *Filter) HasTagFilters() bool {
	return f != nil && (len(f.includeTags) > 0 || len(f.excludeTags) > 0)
}

// ShouldInclude returns true if raw passes the filters that can be checked at
// listing time. Tag filters are skipped when the listing carries no tags.
func (f *Filter) ShouldInclude(raw resource.Raw) bool {
	if !f.MatchName(raw.Name) || !f.MatchAttrs(raw.Attrs) {
		return false
	}
	if raw.Tags != nil && !f.MatchTags(raw.Tags) {
		return false
	}
	return true
}

// Apply returns only resources that pass the filter.
func (f *Filter) Apply(raws []resource.Raw) []resource.Raw {
	if f.IsEmpty() {
		return raws
	}

	filtered := make([]resource.Raw, 0, len(raws))
	for _, r := range raws {
		if f.ShouldInclude(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.excludeKinds) == 0 && f.namePrefix == "" && f.nameContains == "" &&
		len(f.attrs) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
