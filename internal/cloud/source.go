// Package cloud defines the capability contract cloud providers implement for tagsweep.
package cloud

import (
	"context"

	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Action names a remediation a provider can apply to a kind.
type Action string

const (
	ActionDelete Action = "delete"
	// ActionSetDeleteOnTermination flips DeleteOnTermination on non-root volumes.
	ActionSetDeleteOnTermination Action = "set-delete-on-termination"
)

// Pager walks one listing page by page. NextPage does not retry; the page
// token only advances when a fetch succeeds, so a failed call may be repeated.
type Pager interface {
	HasMorePages() bool
	NextPage(ctx context.Context) ([]resource.Raw, error)
}

// Source is the interface every cloud provider must implement.
type Source interface {
	// Name returns the provider identifier (e.g., "aws", "azure")
	Name() string

	// Kinds lists the resource kinds this provider can list.
	Kinds() []resource.Kind

	// Pages starts a fresh listing of kind.
	Pages(kind resource.Kind, f *filter.Filter) (Pager, error)

	// DescribeAttachment resolves whether raw is in use. Returns an error
	// classified as ErrNotFound when the dependent object is gone.
	DescribeAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error)

	// Tags fetches tags for resources listed without inline tags.
	Tags(ctx context.Context, raw resource.Raw) (map[string]string, error)

	// Remediation returns the action supported for kind, if any.
	Remediation(kind resource.Kind) (Action, bool)

	// Remediate applies action to raw.
	Remediate(ctx context.Context, raw resource.Raw, action Action) error

	// Close releases provider resources at the end of a run.
	Close() error
}

// Enricher is implemented by sources that attach extra attributes to detached
// records, such as who detached a volume.
type Enricher interface {
	Enrich(ctx context.Context, raw resource.Raw) (map[string]string, error)
}

// PortInspector is implemented by sources that can list the ports each target
// of a target group is registered on, keyed by target ID.
type PortInspector interface {
	TargetPorts(ctx context.Context, raw resource.Raw) (map[string][]int32, error)
}
