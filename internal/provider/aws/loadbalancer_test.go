package aws

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

const (
	lbArn = "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/app/web/abc"
	tgArn = "arn:aws:elasticloadbalancing:us-east-1:123456789012:targetgroup/web-tg/def"
)

// ══════════════════════════════════════════════════════════════════════════════
// Load balancers
// ══════════════════════════════════════════════════════════════════════════════

func TestListLoadBalancers_FollowsMarker(t *testing.T) {
	created := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	var markers []string
	mock := &mockELBClient{
		DescribeLoadBalancersFunc: func(_ context.Context, in *elasticloadbalancingv2.DescribeLoadBalancersInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error) {
			markers = append(markers, aws.ToString(in.Marker))
			if in.Marker == nil {
				return &elasticloadbalancingv2.DescribeLoadBalancersOutput{
					LoadBalancers: []elbv2types.LoadBalancer{{
						LoadBalancerArn:  aws.String(lbArn),
						LoadBalancerName: aws.String("web"),
						Type:             elbv2types.LoadBalancerTypeEnumApplication,
						CreatedTime:      &created,
					}},
					NextMarker: aws.String("page-2"),
				}, nil
			}
			return &elasticloadbalancingv2.DescribeLoadBalancersOutput{
				LoadBalancers: []elbv2types.LoadBalancer{{
					LoadBalancerArn:  aws.String(lbArn + "2"),
					LoadBalancerName: aws.String("api"),
				}},
			}, nil
		},
	}

	p := newTestProvider()
	p.elbClient = mock

	pager, err := p.Pages(resource.KindLoadBalancer, nil)
	require.NoError(t, err)
	raws, err := cloud.Drain(context.Background(), pager)

	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, []string{"", "page-2"}, markers)
	assert.Equal(t, lbArn, raws[0].ID)
	assert.Equal(t, "web", raws[0].Name)
	assert.Equal(t, "application", raws[0].Attrs["type"])
	assert.Equal(t, created, raws[0].CreatedAt)
	assert.Nil(t, raws[0].Tags, "load balancer tags are fetched separately")
	assert.Equal(t, "aws", raws[0].Provider)
	assert.Equal(t, "us-east-1", raws[0].Region)
}

func TestLoadBalancerAttachment(t *testing.T) {
	tests := []struct {
		name   string
		groups []elbv2types.TargetGroup
		err    error
		want   resource.AttachmentState
		isNF   bool
	}{
		{name: "no target groups", want: resource.Detached},
		{name: "has target group", groups: []elbv2types.TargetGroup{{TargetGroupArn: aws.String(tgArn)}}, want: resource.Attached},
		{name: "deleted meanwhile", err: apiErr("LoadBalancerNotFound"), want: resource.Unknown, isNF: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider()
			p.elbClient = &mockELBClient{
				DescribeTargetGroupsFunc: func(_ context.Context, in *elasticloadbalancingv2.DescribeTargetGroupsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error) {
					assert.Equal(t, lbArn, aws.ToString(in.LoadBalancerArn))
					if tt.err != nil {
						return nil, tt.err
					}
					return &elasticloadbalancingv2.DescribeTargetGroupsOutput{TargetGroups: tt.groups}, nil
				},
			}

			state, err := p.DescribeAttachment(context.Background(), resource.Raw{ID: lbArn, Kind: resource.KindLoadBalancer})
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.isNF, cloud.IsNotFound(err))
		})
	}
}

func TestRemediate_DeleteLoadBalancer(t *testing.T) {
	var deleted string
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DeleteLoadBalancerFunc: func(_ context.Context, in *elasticloadbalancingv2.DeleteLoadBalancerInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DeleteLoadBalancerOutput, error) {
			deleted = aws.ToString(in.LoadBalancerArn)
			return &elasticloadbalancingv2.DeleteLoadBalancerOutput{}, nil
		},
	}

	err := p.Remediate(context.Background(), resource.Raw{ID: lbArn, Kind: resource.KindLoadBalancer}, cloud.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, lbArn, deleted)
}

// ══════════════════════════════════════════════════════════════════════════════
// Target groups
// ══════════════════════════════════════════════════════════════════════════════

func TestListTargetGroups_FilterByTargetType(t *testing.T) {
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DescribeTargetGroupsFunc: func(_ context.Context, _ *elasticloadbalancingv2.DescribeTargetGroupsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error) {
			return &elasticloadbalancingv2.DescribeTargetGroupsOutput{
				TargetGroups: []elbv2types.TargetGroup{
					{TargetGroupArn: aws.String(tgArn), TargetGroupName: aws.String("web-tg"), TargetType: elbv2types.TargetTypeEnumInstance},
					{TargetGroupArn: aws.String(tgArn + "ip"), TargetGroupName: aws.String("web-ip"), TargetType: elbv2types.TargetTypeEnumIp},
					{TargetGroupArn: aws.String(tgArn + "x"), TargetGroupName: aws.String("batch-tg"), TargetType: elbv2types.TargetTypeEnumInstance},
				},
			}, nil
		},
	}

	f := filter.New(filter.Config{NamePrefix: "web", Attrs: map[string]string{"target_type": "instance"}})
	pager, err := p.Pages(resource.KindTargetGroup, f)
	require.NoError(t, err)
	raws, err := cloud.Drain(context.Background(), pager)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "web-tg", raws[0].Name)
}

func TestTargetGroupAttachment(t *testing.T) {
	tests := []struct {
		name      string
		lbArns    []string
		targets   []elbv2types.TargetHealthDescription
		healthErr error
		want      resource.AttachmentState
		isNF      bool
	}{
		{name: "routed by load balancer", lbArns: []string{lbArn}, want: resource.Attached},
		{name: "registered targets", targets: []elbv2types.TargetHealthDescription{{Target: &elbv2types.TargetDescription{Id: aws.String("i-1")}}}, want: resource.Attached},
		{name: "empty", want: resource.Detached},
		{name: "deleted meanwhile", healthErr: apiErr("TargetGroupNotFound"), want: resource.Unknown, isNF: true},
		{name: "throttled", healthErr: apiErr("Throttling"), want: resource.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthCalls := 0
			p := newTestProvider()
			p.elbClient = &mockELBClient{
				DescribeTargetGroupsFunc: func(_ context.Context, in *elasticloadbalancingv2.DescribeTargetGroupsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error) {
					assert.Equal(t, []string{tgArn}, in.TargetGroupArns)
					return &elasticloadbalancingv2.DescribeTargetGroupsOutput{
						TargetGroups: []elbv2types.TargetGroup{{TargetGroupArn: aws.String(tgArn), LoadBalancerArns: tt.lbArns}},
					}, nil
				},
				DescribeTargetHealthFunc: func(_ context.Context, _ *elasticloadbalancingv2.DescribeTargetHealthInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error) {
					healthCalls++
					if tt.healthErr != nil {
						return nil, tt.healthErr
					}
					return &elasticloadbalancingv2.DescribeTargetHealthOutput{TargetHealthDescriptions: tt.targets}, nil
				},
			}

			state, err := p.DescribeAttachment(context.Background(), resource.Raw{ID: tgArn, Kind: resource.KindTargetGroup})
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.isNF, cloud.IsNotFound(err))
			if len(tt.lbArns) > 0 {
				assert.Zero(t, healthCalls, "load balancer routing short-circuits the health lookup")
			}
		})
	}
}

func TestTargetGroupAttachment_ThrottleIsRetryable(t *testing.T) {
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DescribeTargetGroupsFunc: func(_ context.Context, _ *elasticloadbalancingv2.DescribeTargetGroupsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error) {
			return nil, apiErr("Throttling")
		},
	}

	_, err := p.DescribeAttachment(context.Background(), resource.Raw{ID: tgArn, Kind: resource.KindTargetGroup})
	assert.True(t, cloud.IsThrottled(err))
}

func TestELBTags(t *testing.T) {
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DescribeTagsFunc: func(_ context.Context, in *elasticloadbalancingv2.DescribeTagsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTagsOutput, error) {
			assert.Equal(t, []string{tgArn}, in.ResourceArns)
			return &elasticloadbalancingv2.DescribeTagsOutput{
				TagDescriptions: []elbv2types.TagDescription{{
					ResourceArn: aws.String(tgArn),
					Tags: []elbv2types.Tag{
						{Key: aws.String("VSAD"), Value: aws.String("A")},
						{Key: aws.String("Owner"), Value: aws.String("team-a")},
					},
				}},
			}, nil
		},
	}

	got, err := p.Tags(context.Background(), resource.Raw{ID: tgArn, Kind: resource.KindTargetGroup})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"VSAD": "A", "Owner": "team-a"}, got)
}

func TestRemediate_DeleteTargetGroupKeepsError(t *testing.T) {
	inUse := apiErr("ResourceInUse")
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DeleteTargetGroupFunc: func(_ context.Context, _ *elasticloadbalancingv2.DeleteTargetGroupInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DeleteTargetGroupOutput, error) {
			return nil, inUse
		},
	}

	err := p.Remediate(context.Background(), resource.Raw{ID: tgArn, Kind: resource.KindTargetGroup}, cloud.ActionDelete)
	require.Error(t, err)
	assert.Equal(t, inUse.Error(), err.Error())
	assert.ErrorIs(t, err, cloud.ErrPermanent)
}

func TestTargetPorts(t *testing.T) {
	target := func(id string, port int32) elbv2types.TargetHealthDescription {
		return elbv2types.TargetHealthDescription{Target: &elbv2types.TargetDescription{Id: aws.String(id), Port: aws.Int32(port)}}
	}
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DescribeTargetHealthFunc: func(_ context.Context, in *elasticloadbalancingv2.DescribeTargetHealthInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error) {
			assert.Equal(t, tgArn, aws.ToString(in.TargetGroupArn))
			return &elasticloadbalancingv2.DescribeTargetHealthOutput{
				TargetHealthDescriptions: []elbv2types.TargetHealthDescription{
					target("i-1", 8080), target("i-1", 80), target("i-1", 8080),
					target("i-2", 443),
					{},
				},
			}, nil
		},
	}

	ports, err := p.TargetPorts(context.Background(), resource.Raw{ID: tgArn, Kind: resource.KindTargetGroup})

	require.NoError(t, err)
	assert.Equal(t, map[string][]int32{"i-1": {80, 8080}, "i-2": {443}}, ports)
}

func TestTargetPorts_Errors(t *testing.T) {
	p := newTestProvider()
	p.elbClient = &mockELBClient{
		DescribeTargetHealthFunc: func(context.Context, *elasticloadbalancingv2.DescribeTargetHealthInput, ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error) {
			return nil, apiErr("Throttling")
		},
	}

	_, err := p.TargetPorts(context.Background(), resource.Raw{ID: tgArn, Kind: resource.KindTargetGroup})
	assert.ErrorIs(t, err, cloud.ErrThrottled)

	_, err = p.TargetPorts(context.Background(), resource.Raw{ID: lbArn, Kind: resource.KindLoadBalancer})
	assert.ErrorIs(t, err, cloud.ErrUnsupported)
}
