// Package resource defines the record, group and outcome model for tagsweep.
package resource

import "time"

// Kind identifies a resource type within a provider.
type Kind string

const (
	KindLoadBalancer    Kind = "load-balancer"
	KindTargetGroup     Kind = "target-group"
	KindVolume          Kind = "volume"
	KindInstance        Kind = "instance"
	KindFunction        Kind = "function"
	KindEKSCluster      Kind = "eks-cluster"
	KindCacheCluster    Kind = "cache-cluster"
	KindDBInstance      Kind = "db-instance"
	KindDBCluster       Kind = "db-cluster"
	KindMemoryDBCluster Kind = "memorydb-cluster"
	KindKafkaCluster    Kind = "kafka-cluster"
	KindSearchDomain    Kind = "search-domain"
	KindAutoScaling     Kind = "autoscaling-group"
	KindDisk            Kind = "disk"
)

// Unclassified is the classification key of a resource missing the classification tag.
const Unclassified = "Unclassified"

// UnknownValue is the placeholder for owner, user and creation date when absent.
const UnknownValue = "Unknown"

// AttachmentState is the tri-state result of an attachment lookup.
type AttachmentState string

const (
	// Attached means the resource is in use.
	Attached AttachmentState = "attached"
	// Detached means the resource is orphaned and a remediation candidate.
	Detached AttachmentState = "detached"
	// Unknown means the lookup failed; never remediated.
	Unknown AttachmentState = "unknown"
)

// Raw is a resource as returned by a provider listing, before classification.
type Raw struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Provider  string            `json:"provider"`
	Region    string            `json:"region"`
	Name      string            `json:"name"`
	Tags      map[string]string `json:"tags,omitempty"` // nil when the listing has no inline tags
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

// Record is a classified resource. Records are never mutated after construction.
type Record struct {
	ID                string            `json:"id"`
	Kind              Kind              `json:"kind"`
	Provider          string            `json:"provider"`
	Region            string            `json:"region"`
	Name              string            `json:"name"`
	Tags              map[string]string `json:"tags"`
	Attachment        AttachmentState   `json:"attachment"`
	ClassificationKey string            `json:"classification_key"`
	Owner             string            `json:"owner"`
	User              string            `json:"user"`
	CreatedDate       string            `json:"created_date"`
	Attrs             map[string]string `json:"attrs,omitempty"`
	Error             string            `json:"error,omitempty"`
	// TagsUnread is set when the tag snapshot could not be fetched.
	TagsUnread bool `json:"tags_unread,omitempty"`

	raw Raw
}

// NewRecord builds a record from its raw form.
func NewRecord(raw Raw) Record {
	return Record{
		ID:       raw.ID,
		Kind:     raw.Kind,
		Provider: raw.Provider,
		Region:   raw.Region,
		Name:     raw.Name,
		Attrs:    raw.Attrs,
		raw:      raw,
	}
}

// Raw returns the listing form the record was built from.
func (r Record) Raw() Raw {
	return r.raw
}

// Remediable reports whether the record is a remediation candidate.
func (r Record) Remediable() bool {
	return r.Attachment == Detached && !r.TagsUnread
}
