package aws

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	ectypes "github.com/aws/aws-sdk-go-v2/service/elasticache/types"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

func itoa32(v *int32) string {
	return strconv.Itoa(int(aws.ToInt32(v)))
}

// listCacheClusters returns one page of ElastiCache clusters. Tags are fetched separately.
func (p *Provider) listCacheClusters(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.cacheClient.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{Marker: token})
	if err != nil {
		return nil, nil, classify("describe cache clusters", err)
	}

	raws := make([]resource.Raw, 0, len(out.CacheClusters))
	for _, c := range out.CacheClusters {
		raws = append(raws, p.buildCacheClusterRaw(c))
	}
	return raws, out.Marker, nil
}

func (p *Provider) buildCacheClusterRaw(c ectypes.CacheCluster) resource.Raw {
	id := aws.ToString(c.CacheClusterId)
	raw := p.newRaw(resource.KindCacheCluster, id, id)
	raw.Attrs["arn"] = aws.ToString(c.ARN)
	raw.Attrs["engine"] = aws.ToString(c.Engine)
	raw.Attrs["node_type"] = aws.ToString(c.CacheNodeType)
	raw.Attrs["status"] = aws.ToString(c.CacheClusterStatus)
	raw.Attrs["nodes"] = itoa32(c.NumCacheNodes)
	raw.CreatedAt = aws.ToTime(c.CacheClusterCreateTime)
	return raw
}

// cacheClusterAttachment: attached when available with at least one node.
func (p *Provider) cacheClusterAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.cacheClient.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{
		CacheClusterId: aws.String(raw.ID),
	})
	if err != nil {
		return resource.Unknown, classify("describe cache clusters", err, codesCacheNotFound...)
	}
	if len(out.CacheClusters) == 0 {
		return resource.Unknown, notFound("describe cache clusters", raw.ID)
	}

	c := out.CacheClusters[0]
	if aws.ToString(c.CacheClusterStatus) == "available" && aws.ToInt32(c.NumCacheNodes) > 0 {
		return resource.Attached, nil
	}
	return resource.Detached, nil
}

func (p *Provider) cacheClusterTags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	out, err := p.cacheClient.ListTagsForResource(ctx, &elasticache.ListTagsForResourceInput{
		ResourceName: aws.String(raw.Attrs["arn"]),
	})
	if err != nil {
		return nil, classify("list tags for resource", err, codesCacheNotFound...)
	}
	return tags.Normalize(out.TagList), nil
}

// listMemoryDBClusters returns one page of MemoryDB clusters. Tags are fetched separately.
func (p *Provider) listMemoryDBClusters(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.memdbClient.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: token})
	if err != nil {
		return nil, nil, classify("describe memorydb clusters", err)
	}

	raws := make([]resource.Raw, 0, len(out.Clusters))
	for _, c := range out.Clusters {
		raws = append(raws, p.buildMemoryDBRaw(c))
	}
	return raws, out.NextToken, nil
}

func (p *Provider) buildMemoryDBRaw(c memorydbtypes.Cluster) resource.Raw {
	name := aws.ToString(c.Name)
	raw := p.newRaw(resource.KindMemoryDBCluster, name, name)
	raw.Attrs["arn"] = aws.ToString(c.ARN)
	raw.Attrs["status"] = aws.ToString(c.Status)
	raw.Attrs["node_type"] = aws.ToString(c.NodeType)
	raw.Attrs["shards"] = itoa32(c.NumberOfShards)
	return raw
}

// memoryDBAttachment: a cluster without shards holds no data.
func (p *Provider) memoryDBAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.memdbClient.DescribeClusters(ctx, &memorydb.DescribeClustersInput{
		ClusterName:      aws.String(raw.ID),
		ShowShardDetails: aws.Bool(true),
	})
	if err != nil {
		return resource.Unknown, classify("describe memorydb clusters", err, codesMemoryDBNotFound...)
	}
	if len(out.Clusters) == 0 {
		return resource.Unknown, notFound("describe memorydb clusters", raw.ID)
	}

	c := out.Clusters[0]
	if len(c.Shards) == 0 && aws.ToInt32(c.NumberOfShards) == 0 {
		return resource.Detached, nil
	}
	return resource.Attached, nil
}

func (p *Provider) memoryDBTags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	out, err := p.memdbClient.ListTags(ctx, &memorydb.ListTagsInput{ResourceArn: aws.String(raw.Attrs["arn"])})
	if err != nil {
		return nil, classify("list tags", err, codesMemoryDBNotFound...)
	}
	return tags.Normalize(out.TagList), nil
}
