package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// listEKSClusters lists one page of cluster names and describes each one.
func (p *Provider) listEKSClusters(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.eksClient.ListClusters(ctx, &eks.ListClustersInput{NextToken: token})
	if err != nil {
		return nil, nil, classify("list clusters", err)
	}

	raws := make([]resource.Raw, 0, len(out.Clusters))
	for _, name := range out.Clusters {
		desc, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
		if err != nil {
			return nil, nil, classify("describe cluster "+name, err)
		}
		if desc.Cluster != nil {
			raws = append(raws, p.buildEKSClusterRaw(*desc.Cluster))
		}
	}
	return raws, out.NextToken, nil
}

func (p *Provider) buildEKSClusterRaw(c ekstypes.Cluster) resource.Raw {
	raw := p.newRaw(resource.KindEKSCluster, aws.ToString(c.Name), aws.ToString(c.Name))
	raw.Tags = tags.Normalize(c.Tags)
	raw.Attrs["arn"] = aws.ToString(c.Arn)
	raw.Attrs["status"] = string(c.Status)
	raw.Attrs["version"] = aws.ToString(c.Version)
	raw.CreatedAt = aws.ToTime(c.CreatedAt)
	return raw
}

// eksClusterAttachment: a cluster is in use when it has any node capacity.
func (p *Provider) eksClusterAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	ng, err := p.eksClient.ListNodegroups(ctx, &eks.ListNodegroupsInput{ClusterName: aws.String(raw.ID)})
	if err != nil {
		return resource.Unknown, classify("list nodegroups", err, codesResourceNotFound...)
	}
	if len(ng.Nodegroups) > 0 {
		return resource.Attached, nil
	}

	fp, err := p.eksClient.ListFargateProfiles(ctx, &eks.ListFargateProfilesInput{ClusterName: aws.String(raw.ID)})
	if err != nil {
		return resource.Unknown, classify("list fargate profiles", err, codesResourceNotFound...)
	}
	if len(fp.FargateProfileNames) > 0 {
		return resource.Attached, nil
	}
	return resource.Detached, nil
}

// listAutoScalingGroups returns one page of groups with their tags.
func (p *Provider) listAutoScalingGroups(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: token})
	if err != nil {
		return nil, nil, classify("describe auto scaling groups", err)
	}

	raws := make([]resource.Raw, 0, len(out.AutoScalingGroups))
	for _, g := range out.AutoScalingGroups {
		raws = append(raws, p.buildAutoScalingRaw(g))
	}
	return raws, out.NextToken, nil
}

func (p *Provider) buildAutoScalingRaw(g asgtypes.AutoScalingGroup) resource.Raw {
	name := aws.ToString(g.AutoScalingGroupName)
	raw := p.newRaw(resource.KindAutoScaling, name, name)
	raw.Tags = tags.Normalize(g.Tags)
	raw.Attrs["arn"] = aws.ToString(g.AutoScalingGroupARN)
	raw.Attrs["desired_capacity"] = itoa32(g.DesiredCapacity)
	raw.CreatedAt = aws.ToTime(g.CreatedTime)
	return raw
}

// autoScalingAttachment: a group with no instances or a suspended Launch process is idle.
func (p *Provider) autoScalingAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{raw.ID},
	})
	if err != nil {
		return resource.Unknown, classify("describe auto scaling groups", err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return resource.Unknown, notFound("describe auto scaling groups", raw.ID)
	}

	g := out.AutoScalingGroups[0]
	if len(g.Instances) == 0 {
		return resource.Detached, nil
	}
	for _, sp := range g.SuspendedProcesses {
		if aws.ToString(sp.ProcessName) == "Launch" {
			return resource.Detached, nil
		}
	}
	return resource.Attached, nil
}
