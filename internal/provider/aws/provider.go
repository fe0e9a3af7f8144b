// Package aws implements the tagsweep cloud.Source for Amazon Web Services.
package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/opensearch"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/rs/zerolog"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// ProviderName is the registry name of this source.
const ProviderName = "aws"

var defaultLogger = telemetry.NewLogger("aws-provider")

// Config holds AWS provider configuration.
type Config struct {
	Region  string
	Profile string
}

// Provider lists and remediates AWS resources. Clients are stored behind
// interfaces for testability.
type Provider struct {
	region string

	ec2Client    EC2API
	elbClient    ELBAPI
	lambdaClient LambdaAPI
	cwClient     CloudWatchAPI
	trailClient  CloudTrailAPI
	eksClient    EKSAPI
	asgClient    AutoScalingAPI
	cacheClient  ElastiCacheAPI
	memdbClient  MemoryDBAPI
	rdsClient    RDSAPI
	mskClient    MSKAPI
	searchClient OpenSearchAPI

	now    func() time.Time
	logger *telemetry.Logger
}

// New creates a provider from the default credential chain. SDK retries are
// disabled: the engine owns retry and backoff.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Provider{
		region:       awsCfg.Region,
		ec2Client:    ec2.NewFromConfig(awsCfg),
		elbClient:    elasticloadbalancingv2.NewFromConfig(awsCfg),
		lambdaClient: lambda.NewFromConfig(awsCfg),
		cwClient:     cloudwatch.NewFromConfig(awsCfg),
		trailClient:  cloudtrail.NewFromConfig(awsCfg),
		eksClient:    eks.NewFromConfig(awsCfg),
		asgClient:    autoscaling.NewFromConfig(awsCfg),
		cacheClient:  elasticache.NewFromConfig(awsCfg),
		memdbClient:  memorydb.NewFromConfig(awsCfg),
		rdsClient:    rds.NewFromConfig(awsCfg),
		mskClient:    kafka.NewFromConfig(awsCfg),
		searchClient: opensearch.NewFromConfig(awsCfg),
		now:          time.Now,
		logger:       defaultLogger,
	}, nil
}

// kindSpec binds one resource kind to the calls that serve it.
type kindSpec struct {
	list      func(p *Provider, ctx context.Context, token *string) ([]resource.Raw, *string, error)
	attach    func(p *Provider, ctx context.Context, raw resource.Raw) (resource.AttachmentState, error)
	tags      func(p *Provider, ctx context.Context, raw resource.Raw) (map[string]string, error) // nil when listed inline
	enrich    func(p *Provider, ctx context.Context, raw resource.Raw) (map[string]string, error)
	action    cloud.Action // empty for report-only kinds
	remediate func(p *Provider, ctx context.Context, raw resource.Raw) error
}

var kinds = map[resource.Kind]kindSpec{
	resource.KindLoadBalancer: {
		list:      (*Provider).listLoadBalancers,
		attach:    (*Provider).loadBalancerAttachment,
		tags:      (*Provider).elbTags,
		action:    cloud.ActionDelete,
		remediate: (*Provider).deleteLoadBalancer,
	},
	resource.KindTargetGroup: {
		list:      (*Provider).listTargetGroups,
		attach:    (*Provider).targetGroupAttachment,
		tags:      (*Provider).elbTags,
		action:    cloud.ActionDelete,
		remediate: (*Provider).deleteTargetGroup,
	},
	resource.KindVolume: {
		list:      (*Provider).listVolumes,
		attach:    (*Provider).volumeAttachment,
		enrich:    (*Provider).volumeDetachEvent,
		action:    cloud.ActionDelete,
		remediate: (*Provider).deleteVolume,
	},
	resource.KindInstance: {
		list:      (*Provider).listInstances,
		attach:    (*Provider).instanceAttachment,
		action:    cloud.ActionSetDeleteOnTermination,
		remediate: (*Provider).setDeleteOnTermination,
	},
	resource.KindFunction: {
		list:      (*Provider).listFunctions,
		attach:    (*Provider).functionAttachment,
		tags:      (*Provider).functionTags,
		enrich:    (*Provider).functionLastInvoked,
		action:    cloud.ActionDelete,
		remediate: (*Provider).deleteFunction,
	},
	resource.KindEKSCluster: {
		list:   (*Provider).listEKSClusters,
		attach: (*Provider).eksClusterAttachment,
	},
	resource.KindAutoScaling: {
		list:   (*Provider).listAutoScalingGroups,
		attach: (*Provider).autoScalingAttachment,
	},
	resource.KindCacheCluster: {
		list:   (*Provider).listCacheClusters,
		attach: (*Provider).cacheClusterAttachment,
		tags:   (*Provider).cacheClusterTags,
	},
	resource.KindMemoryDBCluster: {
		list:   (*Provider).listMemoryDBClusters,
		attach: (*Provider).memoryDBAttachment,
		tags:   (*Provider).memoryDBTags,
	},
	resource.KindDBInstance: {
		list:   (*Provider).listDBInstances,
		attach: (*Provider).dbInstanceAttachment,
	},
	resource.KindDBCluster: {
		list:   (*Provider).listDBClusters,
		attach: (*Provider).dbClusterAttachment,
	},
	resource.KindKafkaCluster: {
		list:   (*Provider).listKafkaClusters,
		attach: (*Provider).kafkaClusterAttachment,
	},
	resource.KindSearchDomain: {
		list:   (*Provider).listSearchDomains,
		attach: (*Provider).searchDomainAttachment,
		tags:   (*Provider).searchDomainTags,
	},
}

func (p *Provider) spec(kind resource.Kind) (kindSpec, error) {
	s, ok := kinds[kind]
	if !ok {
		return kindSpec{}, fmt.Errorf("aws kind %q: %w", kind, cloud.ErrUnsupported)
	}
	return s, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Kinds lists every supported kind, sorted.
func (p *Provider) Kinds() []resource.Kind {
	out := make([]resource.Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pages starts a listing of kind.
func (p *Provider) Pages(kind resource.Kind, f *filter.Filter) (cloud.Pager, error) {
	s, err := p.spec(kind)
	if err != nil {
		return nil, err
	}
	return cloud.NewTokenPager(func(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
		return s.list(p, ctx, token)
	}, f), nil
}

// DescribeAttachment resolves whether raw is in use.
func (p *Provider) DescribeAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	s, err := p.spec(raw.Kind)
	if err != nil {
		return resource.Unknown, err
	}
	return s.attach(p, ctx, raw)
}

// Tags fetches tags for kinds listed without them.
func (p *Provider) Tags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	s, err := p.spec(raw.Kind)
	if err != nil {
		return nil, err
	}
	if s.tags == nil {
		return raw.Tags, nil
	}
	return s.tags(p, ctx, raw)
}

// Enrich adds provider detail to detached records.
func (p *Provider) Enrich(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	s, err := p.spec(raw.Kind)
	if err != nil || s.enrich == nil {
		return nil, nil
	}
	return s.enrich(p, ctx, raw)
}

// Remediation returns the action available for kind.
func (p *Provider) Remediation(kind resource.Kind) (cloud.Action, bool) {
	s, ok := kinds[kind]
	if !ok || s.action == "" {
		return "", false
	}
	return s.action, true
}

// Remediate applies action to raw.
func (p *Provider) Remediate(ctx context.Context, raw resource.Raw, action cloud.Action) error {
	s, err := p.spec(raw.Kind)
	if err != nil {
		return err
	}
	if s.action == "" || s.action != action {
		return fmt.Errorf("aws %s: action %q: %w", raw.Kind, action, cloud.ErrUnsupported)
	}

	p.log(ctx).Info().
		Str("resource", raw.ID).
		Str("kind", string(raw.Kind)).
		Str("action", string(action)).
		Msg("remediating")
	return s.remediate(p, ctx, raw)
}

// Close is a no-op; SDK clients hold no resources that need releasing.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) newRaw(kind resource.Kind, id, name string) resource.Raw {
	return resource.Raw{
		ID:       id,
		Kind:     kind,
		Provider: ProviderName,
		Region:   p.region,
		Name:     name,
		Attrs:    make(map[string]string),
	}
}

func (p *Provider) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

func (p *Provider) log(ctx context.Context) *zerolog.Logger {
	l := p.logger
	if l == nil {
		l = defaultLogger
	}
	return l.WithContext(ctx)
}
