// Package azure implements the tagsweep cloud.Source for Azure managed disks
// using Azure Resource Graph.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// ProviderName is the registry name of this source.
const ProviderName = "azure"

const diskQuery = `Resources
| where type =~ 'microsoft.compute/disks'`

const diskProjection = `
| project id, name, location, resourceGroup, tags, managedBy,
    diskState = tostring(properties.diskState),
    sizeGb = tostring(properties.diskSizeGB),
    sku = tostring(sku.name),
    timeCreated = tostring(properties.timeCreated)`

// GraphAPI is the Resource Graph call used by the provider.
type GraphAPI interface {
	Resources(ctx context.Context, query armresourcegraph.QueryRequest, options *armresourcegraph.ClientResourcesOptions) (armresourcegraph.ClientResourcesResponse, error)
}

// Config holds Azure provider configuration.
type Config struct {
	Subscriptions []string
}

// Provider lists Azure managed disks. It is report-only.
type Provider struct {
	client        GraphAPI
	subscriptions []*string
	logger        *telemetry.Logger
}

// New creates a provider using the default Azure credential chain.
func New(_ context.Context, cfg Config) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := armresourcegraph.NewClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("resource graph client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a provider over an existing Resource Graph client.
func NewWithClient(client GraphAPI, cfg Config) *Provider {
	subs := make([]*string, 0, len(cfg.Subscriptions))
	for _, s := range cfg.Subscriptions {
		subs = append(subs, to.Ptr(s))
	}
	return &Provider{
		client:        client,
		subscriptions: subs,
		logger:        telemetry.NewLogger("azure-provider"),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Kinds lists the supported kinds.
func (p *Provider) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindDisk}
}

// Pages starts a disk listing, following the Resource Graph skip token.
func (p *Provider) Pages(kind resource.Kind, f *filter.Filter) (cloud.Pager, error) {
	if kind != resource.KindDisk {
		return nil, fmt.Errorf("azure kind %q: %w", kind, cloud.ErrUnsupported)
	}
	return cloud.NewTokenPager(p.listDisks, f), nil
}

func (p *Provider) query(ctx context.Context, query string, skipToken *string) ([]map[string]any, *string, error) {
	resp, err := p.client.Resources(ctx, armresourcegraph.QueryRequest{
		Query:         to.Ptr(query),
		Subscriptions: p.subscriptions,
		Options: &armresourcegraph.QueryRequestOptions{
			SkipToken:    skipToken,
			ResultFormat: to.Ptr(armresourcegraph.ResultFormatObjectArray),
		},
	}, nil)
	if err != nil {
		return nil, nil, classify("resource graph query", err)
	}

	data, _ := resp.Data.([]any)
	rows := make([]map[string]any, 0, len(data))
	for _, d := range data {
		if row, ok := d.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows, resp.SkipToken, nil
}

func (p *Provider) listDisks(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	rows, next, err := p.query(ctx, diskQuery+diskProjection, token)
	if err != nil {
		return nil, nil, err
	}

	raws := make([]resource.Raw, 0, len(rows))
	for _, row := range rows {
		raws = append(raws, buildDiskRaw(row))
	}
	return raws, next, nil
}

func buildDiskRaw(row map[string]any) resource.Raw {
	raw := resource.Raw{
		ID:       str(row["id"]),
		Kind:     resource.KindDisk,
		Provider: ProviderName,
		Region:   str(row["location"]),
		Name:     str(row["name"]),
		Tags:     tags.Normalize(row["tags"]),
		Attrs: map[string]string{
			"resource_group": str(row["resourceGroup"]),
			"disk_state":     str(row["diskState"]),
			"size_gb":        str(row["sizeGb"]),
			"sku":            str(row["sku"]),
		},
	}
	if managedBy := str(row["managedBy"]); managedBy != "" {
		raw.Attrs["managed_by"] = managedBy
	}
	if ts, err := time.Parse(time.RFC3339, str(row["timeCreated"])); err == nil {
		raw.CreatedAt = ts
	}
	return raw
}

// DescribeAttachment re-reads the disk state.
func (p *Provider) DescribeAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	q := fmt.Sprintf("%s and id =~ '%s'\n| project diskState = tostring(properties.diskState)",
		diskQuery, strings.ReplaceAll(raw.ID, "'", `\'`))
	rows, _, err := p.query(ctx, q, nil)
	if err != nil {
		return resource.Unknown, err
	}
	if len(rows) == 0 {
		return resource.Unknown, cloud.NewError(cloud.ErrNotFound, "describe disk",
			fmt.Errorf("disk %s does not exist", raw.ID))
	}
	return diskAttachment(str(rows[0]["diskState"]))
}

func diskAttachment(state string) (resource.AttachmentState, error) {
	switch strings.ToLower(state) {
	case "unattached":
		return resource.Detached, nil
	case "attached", "reserved":
		return resource.Attached, nil
	default:
		return resource.Unknown, cloud.NewError(cloud.ErrPermanent, "describe disk",
			fmt.Errorf("unrecognized disk state %q", state))
	}
}

// Tags returns the inline tags; disks are always listed with them.
func (p *Provider) Tags(_ context.Context, raw resource.Raw) (map[string]string, error) {
	return raw.Tags, nil
}

// Remediation is never available for Azure disks.
func (p *Provider) Remediation(resource.Kind) (cloud.Action, bool) {
	return "", false
}

// Remediate always fails with ErrUnsupported.
func (p *Provider) Remediate(ctx context.Context, raw resource.Raw, action cloud.Action) error {
	p.logger.WithContext(ctx).Warn().
		Str("resource", raw.ID).
		Str("action", string(action)).
		Msg("remediation requested on report-only provider")
	return fmt.Errorf("azure %s: %w", raw.Kind, cloud.ErrUnsupported)
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// classify maps HTTP status codes to cloud error classes. A missing disk is an
// empty result set; a 404 here means the subscription or endpoint is missing.
func classify(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusTooManyRequests {
		return cloud.NewError(cloud.ErrThrottled, op, err)
	}
	return cloud.NewError(cloud.ErrPermanent, op, err)
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
