package engine

import (
	"github.com/google/btree"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// keyLess orders classification keys alphabetically with Unclassified last.
func keyLess(a, b string) bool {
	if a == resource.Unclassified {
		return false
	}
	if b == resource.Unclassified {
		return true
	}
	return a < b
}

// Aggregate groups items by key. The same key always lands in the same
// group; members keep input order; groups come out in key order.
func Aggregate[T any](items []T, key func(T) string) []resource.Group[T] {
	index := btree.NewG[string](8, keyLess)
	members := make(map[string][]T)

	for _, item := range items {
		k := key(item)
		if _, ok := members[k]; !ok {
			index.ReplaceOrInsert(k)
		}
		members[k] = append(members[k], item)
	}

	groups := make([]resource.Group[T], 0, index.Len())
	index.Ascend(func(k string) bool {
		groups = append(groups, resource.Group[T]{Key: k, Members: members[k]})
		return true
	})
	return groups
}

// GroupRecords groups records by classification key. Unclassified records are kept.
func GroupRecords(records []resource.Record) []resource.Group[resource.Record] {
	return Aggregate(records, func(r resource.Record) string {
		if r.ClassificationKey == "" {
			return resource.Unclassified
		}
		return r.ClassificationKey
	})
}

// GroupOutcomes groups outcomes by the classification key of their resource.
func GroupOutcomes(outcomes []resource.Outcome) []resource.Group[resource.Outcome] {
	return Aggregate(outcomes, func(o resource.Outcome) string {
		if o.Key == "" {
			return resource.Unclassified
		}
		return o.Key
	})
}

// Detached returns the detached records across groups, in group order.
func Detached(groups []resource.Group[resource.Record]) []resource.Record {
	var out []resource.Record
	for _, g := range groups {
		for _, r := range g.Members {
			if r.Attachment == resource.Detached {
				out = append(out, r)
			}
		}
	}
	return out
}
