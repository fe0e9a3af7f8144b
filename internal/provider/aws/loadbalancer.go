package aws

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// listLoadBalancers returns one page of ELBv2 load balancers. Tags are fetched separately.
func (p *Provider) listLoadBalancers(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.elbClient.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: token})
	if err != nil {
		return nil, nil, classify("describe load balancers", err)
	}

	raws := make([]resource.Raw, 0, len(out.LoadBalancers))
	for _, lb := range out.LoadBalancers {
		raws = append(raws, p.buildLoadBalancerRaw(lb))
	}
	return raws, out.NextMarker, nil
}

func (p *Provider) buildLoadBalancerRaw(lb elbv2types.LoadBalancer) resource.Raw {
	raw := p.newRaw(resource.KindLoadBalancer, aws.ToString(lb.LoadBalancerArn), aws.ToString(lb.LoadBalancerName))
	raw.Attrs["type"] = string(lb.Type)
	raw.Attrs["scheme"] = string(lb.Scheme)
	raw.Attrs["vpc_id"] = aws.ToString(lb.VpcId)
	if lb.State != nil {
		raw.Attrs["state"] = string(lb.State.Code)
	}
	if lb.CreatedTime != nil {
		raw.CreatedAt = *lb.CreatedTime
	}
	return raw
}

// loadBalancerAttachment: a load balancer with no target groups serves nothing.
func (p *Provider) loadBalancerAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.elbClient.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		LoadBalancerArn: aws.String(raw.ID),
	})
	if err != nil {
		return resource.Unknown, classify("describe target groups", err, codesLoadBalancerNotFound...)
	}
	if len(out.TargetGroups) == 0 {
		return resource.Detached, nil
	}
	return resource.Attached, nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, raw resource.Raw) error {
	_, err := p.elbClient.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(raw.ID),
	})
	return classify("delete load balancer", err, codesLoadBalancerNotFound...)
}

// listTargetGroups returns one page of target groups.
func (p *Provider) listTargetGroups(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.elbClient.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{Marker: token})
	if err != nil {
		return nil, nil, classify("describe target groups", err)
	}

	raws := make([]resource.Raw, 0, len(out.TargetGroups))
	for _, tg := range out.TargetGroups {
		raws = append(raws, p.buildTargetGroupRaw(tg))
	}
	return raws, out.NextMarker, nil
}

func (p *Provider) buildTargetGroupRaw(tg elbv2types.TargetGroup) resource.Raw {
	raw := p.newRaw(resource.KindTargetGroup, aws.ToString(tg.TargetGroupArn), aws.ToString(tg.TargetGroupName))
	raw.Attrs["target_type"] = string(tg.TargetType)
	raw.Attrs["protocol"] = string(tg.Protocol)
	raw.Attrs["vpc_id"] = aws.ToString(tg.VpcId)
	if len(tg.LoadBalancerArns) > 0 {
		raw.Attrs["load_balancer_arns"] = strings.Join(tg.LoadBalancerArns, ",")
	}
	return raw
}

// targetGroupAttachment: attached when a load balancer routes to the group or
// any target is registered.
func (p *Provider) targetGroupAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.elbClient.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{raw.ID},
	})
	if err != nil {
		return resource.Unknown, classify("describe target groups", err, codesTargetGroupNotFound...)
	}
	for _, tg := range out.TargetGroups {
		if len(tg.LoadBalancerArns) > 0 {
			return resource.Attached, nil
		}
	}

	health, err := p.elbClient.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(raw.ID),
	})
	if err != nil {
		return resource.Unknown, classify("describe target health", err, codesTargetGroupNotFound...)
	}
	if len(health.TargetHealthDescriptions) > 0 {
		return resource.Attached, nil
	}
	return resource.Detached, nil
}

// TargetPorts returns the distinct ports each registered target of a target
// group listens on, sorted ascending.
func (p *Provider) TargetPorts(ctx context.Context, raw resource.Raw) (map[string][]int32, error) {
	if raw.Kind != resource.KindTargetGroup {
		return nil, fmt.Errorf("target ports for %s: %w", raw.Kind, cloud.ErrUnsupported)
	}
	health, err := p.elbClient.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(raw.ID),
	})
	if err != nil {
		return nil, classify("describe target health", err, codesTargetGroupNotFound...)
	}

	ports := make(map[string][]int32)
	for _, desc := range health.TargetHealthDescriptions {
		if desc.Target == nil {
			continue
		}
		id := aws.ToString(desc.Target.Id)
		port := aws.ToInt32(desc.Target.Port)
		if !slices.Contains(ports[id], port) {
			ports[id] = append(ports[id], port)
		}
	}
	for id := range ports {
		slices.Sort(ports[id])
	}
	return ports, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, raw resource.Raw) error {
	_, err := p.elbClient.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: aws.String(raw.ID),
	})
	return classify("delete target group", err, codesTargetGroupNotFound...)
}

// elbTags serves both load balancers and target groups.
func (p *Provider) elbTags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	out, err := p.elbClient.DescribeTags(ctx, &elasticloadbalancingv2.DescribeTagsInput{
		ResourceArns: []string{raw.ID},
	})
	if err != nil {
		return nil, classify("describe tags", err, codesLoadBalancerNotFound[0], codesTargetGroupNotFound[0])
	}
	for _, desc := range out.TagDescriptions {
		if aws.ToString(desc.ResourceArn) == raw.ID {
			return tags.Normalize(desc.Tags), nil
		}
	}
	return map[string]string{}, nil
}
