package resource

import "encoding/json"

// Group is an aggregation bucket keyed by classification key.
// Members keep discovery order.
type Group[T any] struct {
	Key     string
	Members []T
}

// Count is always len(Members).
func (g Group[T]) Count() int {
	return len(g.Members)
}

// MarshalJSON includes the derived count.
func (g Group[T]) MarshalJSON() ([]byte, error) {
	members := g.Members
	if members == nil {
		members = []T{}
	}
	return json.Marshal(struct {
		Key     string `json:"key"`
		Count   int    `json:"count"`
		Members []T    `json:"members"`
	}{g.Key, len(members), members})
}

// Total sums member counts across groups.
func Total[T any](groups []Group[T]) int {
	n := 0
	for _, g := range groups {
		n += g.Count()
	}
	return n
}
