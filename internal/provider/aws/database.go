package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// listDBInstances returns one page of RDS instances with their tags.
func (p *Provider) listDBInstances(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: token})
	if err != nil {
		return nil, nil, classify("describe db instances", err)
	}

	raws := make([]resource.Raw, 0, len(out.DBInstances))
	for _, inst := range out.DBInstances {
		raws = append(raws, p.buildDBInstanceRaw(inst))
	}
	return raws, out.Marker, nil
}

func (p *Provider) buildDBInstanceRaw(inst rdstypes.DBInstance) resource.Raw {
	id := aws.ToString(inst.DBInstanceIdentifier)
	raw := p.newRaw(resource.KindDBInstance, id, id)
	raw.Tags = tags.Normalize(inst.TagList)
	raw.Attrs["arn"] = aws.ToString(inst.DBInstanceArn)
	raw.Attrs["engine"] = aws.ToString(inst.Engine)
	raw.Attrs["instance_class"] = aws.ToString(inst.DBInstanceClass)
	raw.Attrs["status"] = aws.ToString(inst.DBInstanceStatus)
	if cluster := aws.ToString(inst.DBClusterIdentifier); cluster != "" {
		raw.Attrs["cluster"] = cluster
	}
	raw.CreatedAt = aws.ToTime(inst.InstanceCreateTime)
	return raw
}

// dbInstanceAttachment: attached when available or serving a cluster.
func (p *Provider) dbInstanceAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(raw.ID),
	})
	if err != nil {
		return resource.Unknown, classify("describe db instances", err, codesDBInstanceNotFound...)
	}
	if len(out.DBInstances) == 0 {
		return resource.Unknown, notFound("describe db instances", raw.ID)
	}

	inst := out.DBInstances[0]
	if aws.ToString(inst.DBInstanceStatus) == "available" || aws.ToString(inst.DBClusterIdentifier) != "" {
		return resource.Attached, nil
	}
	return resource.Detached, nil
}

// listDBClusters returns one page of RDS clusters with their tags.
func (p *Provider) listDBClusters(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.rdsClient.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{Marker: token})
	if err != nil {
		return nil, nil, classify("describe db clusters", err)
	}

	raws := make([]resource.Raw, 0, len(out.DBClusters))
	for _, c := range out.DBClusters {
		raws = append(raws, p.buildDBClusterRaw(c))
	}
	return raws, out.Marker, nil
}

func (p *Provider) buildDBClusterRaw(c rdstypes.DBCluster) resource.Raw {
	id := aws.ToString(c.DBClusterIdentifier)
	raw := p.newRaw(resource.KindDBCluster, id, id)
	raw.Tags = tags.Normalize(c.TagList)
	raw.Attrs["arn"] = aws.ToString(c.DBClusterArn)
	raw.Attrs["engine"] = aws.ToString(c.Engine)
	raw.Attrs["status"] = aws.ToString(c.Status)
	raw.CreatedAt = aws.ToTime(c.ClusterCreateTime)
	return raw
}

// dbClusterAttachment: a cluster without members serves nothing.
func (p *Provider) dbClusterAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.rdsClient.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(raw.ID),
	})
	if err != nil {
		return resource.Unknown, classify("describe db clusters", err, codesDBClusterNotFound...)
	}
	if len(out.DBClusters) == 0 {
		return resource.Unknown, notFound("describe db clusters", raw.ID)
	}
	if len(out.DBClusters[0].DBClusterMembers) == 0 {
		return resource.Detached, nil
	}
	return resource.Attached, nil
}
