package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	kafkatypes "github.com/aws/aws-sdk-go-v2/service/kafka/types"
	"github.com/aws/aws-sdk-go-v2/service/opensearch"
	searchtypes "github.com/aws/aws-sdk-go-v2/service/opensearch/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// DescribeDomains accepts at most this many names per call.
const describeDomainsBatch = 5

// listKafkaClusters returns one page of MSK clusters with their tags.
func (p *Provider) listKafkaClusters(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.mskClient.ListClustersV2(ctx, &kafka.ListClustersV2Input{NextToken: token})
	if err != nil {
		return nil, nil, classify("list kafka clusters", err)
	}

	raws := make([]resource.Raw, 0, len(out.ClusterInfoList))
	for _, c := range out.ClusterInfoList {
		raws = append(raws, p.buildKafkaRaw(c))
	}
	return raws, out.NextToken, nil
}

func (p *Provider) buildKafkaRaw(c kafkatypes.Cluster) resource.Raw {
	raw := p.newRaw(resource.KindKafkaCluster, aws.ToString(c.ClusterArn), aws.ToString(c.ClusterName))
	raw.Tags = tags.Normalize(c.Tags)
	raw.Attrs["state"] = string(c.State)
	raw.Attrs["cluster_type"] = string(c.ClusterType)
	raw.CreatedAt = aws.ToTime(c.CreationTime)
	return raw
}

// kafkaClusterAttachment: only an ACTIVE cluster counts as in use.
func (p *Provider) kafkaClusterAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.mskClient.DescribeClusterV2(ctx, &kafka.DescribeClusterV2Input{ClusterArn: aws.String(raw.ID)})
	if err != nil {
		return resource.Unknown, classify("describe kafka cluster", err, codesKafkaNotFound...)
	}
	if out.ClusterInfo == nil {
		return resource.Unknown, notFound("describe kafka cluster", raw.ID)
	}
	if out.ClusterInfo.State == kafkatypes.ClusterStateActive {
		return resource.Attached, nil
	}
	return resource.Detached, nil
}

// listSearchDomains lists every domain in one page; the API is not paginated.
func (p *Provider) listSearchDomains(ctx context.Context, _ *string) ([]resource.Raw, *string, error) {
	names, err := p.searchClient.ListDomainNames(ctx, &opensearch.ListDomainNamesInput{})
	if err != nil {
		return nil, nil, classify("list domain names", err)
	}

	all := make([]string, 0, len(names.DomainNames))
	for _, d := range names.DomainNames {
		all = append(all, aws.ToString(d.DomainName))
	}

	var raws []resource.Raw
	for start := 0; start < len(all); start += describeDomainsBatch {
		end := min(start+describeDomainsBatch, len(all))
		out, err := p.searchClient.DescribeDomains(ctx, &opensearch.DescribeDomainsInput{DomainNames: all[start:end]})
		if err != nil {
			return nil, nil, classify("describe domains", err)
		}
		for _, d := range out.DomainStatusList {
			raws = append(raws, p.buildSearchDomainRaw(d))
		}
	}
	return raws, nil, nil
}

func (p *Provider) buildSearchDomainRaw(d searchtypes.DomainStatus) resource.Raw {
	name := aws.ToString(d.DomainName)
	raw := p.newRaw(resource.KindSearchDomain, name, name)
	raw.Attrs["arn"] = aws.ToString(d.ARN)
	raw.Attrs["engine_version"] = aws.ToString(d.EngineVersion)
	if d.ClusterConfig != nil {
		raw.Attrs["instance_type"] = string(d.ClusterConfig.InstanceType)
		raw.Attrs["instances"] = itoa32(d.ClusterConfig.InstanceCount)
	}
	return raw
}

// searchDomainAttachment: deleted domains and domains without instances are idle.
func (p *Provider) searchDomainAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.searchClient.DescribeDomain(ctx, &opensearch.DescribeDomainInput{DomainName: aws.String(raw.ID)})
	if err != nil {
		return resource.Unknown, classify("describe domain", err, codesResourceNotFound...)
	}
	d := out.DomainStatus
	if d == nil {
		return resource.Unknown, notFound("describe domain", raw.ID)
	}
	if aws.ToBool(d.Deleted) || d.ClusterConfig == nil || aws.ToInt32(d.ClusterConfig.InstanceCount) == 0 {
		return resource.Detached, nil
	}
	return resource.Attached, nil
}

func (p *Provider) searchDomainTags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	out, err := p.searchClient.ListTags(ctx, &opensearch.ListTagsInput{ARN: aws.String(raw.Attrs["arn"])})
	if err != nil {
		return nil, classify("list tags", err, codesResourceNotFound...)
	}
	return tags.Normalize(out.TagList), nil
}
