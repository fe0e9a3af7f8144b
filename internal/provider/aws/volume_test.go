package aws

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

func TestListVolumes_TagsInline(t *testing.T) {
	created := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	p := newTestProvider()
	p.ec2Client = &mockEC2Client{
		DescribeVolumesFunc: func(_ context.Context, _ *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			return &ec2.DescribeVolumesOutput{
				Volumes: []ec2types.Volume{{
					VolumeId:   aws.String("vol-1"),
					Size:       aws.Int32(100),
					State:      ec2types.VolumeStateAvailable,
					VolumeType: ec2types.VolumeTypeGp3,
					CreateTime: &created,
					Tags: []ec2types.Tag{
						{Key: aws.String("Name"), Value: aws.String("data")},
						{Key: aws.String("VSAD"), Value: aws.String("A")},
					},
				}},
			}, nil
		},
	}

	raws, _, err := p.listVolumes(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	r := raws[0]
	assert.Equal(t, "vol-1", r.ID)
	assert.Equal(t, "data", r.Name)
	assert.Equal(t, "100", r.Attrs["size_gb"])
	assert.Equal(t, "available", r.Attrs["state"])
	assert.Equal(t, map[string]string{"Name": "data", "VSAD": "A"}, r.Tags)
	assert.Equal(t, created, r.CreatedAt)
}

func TestListVolumes_UntaggedHasEmptyTags(t *testing.T) {
	p := newTestProvider()
	p.ec2Client = &mockEC2Client{
		DescribeVolumesFunc: func(_ context.Context, _ *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			return &ec2.DescribeVolumesOutput{Volumes: []ec2types.Volume{{VolumeId: aws.String("vol-2")}}}, nil
		},
	}

	raws, _, err := p.listVolumes(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, raws[0].Tags, "inline kinds never trigger a separate tag lookup")
	assert.Empty(t, raws[0].Tags)
}

func TestVolumeAttachment(t *testing.T) {
	tests := []struct {
		name    string
		volumes []ec2types.Volume
		err     error
		want    resource.AttachmentState
		isNF    bool
	}{
		{
			name:    "attached",
			volumes: []ec2types.Volume{{VolumeId: aws.String("vol-1"), Attachments: []ec2types.VolumeAttachment{{InstanceId: aws.String("i-1")}}}},
			want:    resource.Attached,
		},
		{name: "no attachments", volumes: []ec2types.Volume{{VolumeId: aws.String("vol-1")}}, want: resource.Detached},
		{name: "gone", err: apiErr("InvalidVolume.NotFound"), want: resource.Unknown, isNF: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider()
			p.ec2Client = &mockEC2Client{
				DescribeVolumesFunc: func(_ context.Context, in *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
					assert.Equal(t, []string{"vol-1"}, in.VolumeIds)
					if tt.err != nil {
						return nil, tt.err
					}
					return &ec2.DescribeVolumesOutput{Volumes: tt.volumes}, nil
				},
			}

			state, err := p.DescribeAttachment(context.Background(), resource.Raw{ID: "vol-1", Kind: resource.KindVolume})
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.isNF, cloud.IsNotFound(err))
		})
	}
}

func TestEnrich_VolumeDetachEvent(t *testing.T) {
	older := testNow.Add(-72 * time.Hour)
	newer := testNow.Add(-24 * time.Hour)

	p := newTestProvider()
	p.trailClient = &mockCloudTrailClient{
		LookupEventsFunc: func(_ context.Context, in *cloudtrail.LookupEventsInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
			require.Len(t, in.LookupAttributes, 1)
			assert.Equal(t, "vol-1", aws.ToString(in.LookupAttributes[0].AttributeValue))
			assert.Equal(t, testNow, *in.EndTime)
			assert.Equal(t, testNow.Add(-trailLookback), *in.StartTime)
			return &cloudtrail.LookupEventsOutput{
				Events: []cttypes.Event{
					{EventName: aws.String("DetachVolume"), EventTime: &older, Username: aws.String("alice")},
					{EventName: aws.String("CreateTags"), EventTime: &testNow, Username: aws.String("bot")},
					{EventName: aws.String("DetachVolume"), EventTime: &newer, Username: aws.String("bob")},
				},
			}, nil
		},
	}

	got, err := p.Enrich(context.Background(), resource.Raw{ID: "vol-1", Kind: resource.KindVolume})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"detached_at": newer.Format(time.RFC3339),
		"detached_by": "bob",
	}, got)
}

func TestEnrich_VolumeNoDetachEvent(t *testing.T) {
	p := newTestProvider()
	p.trailClient = &mockCloudTrailClient{
		LookupEventsFunc: func(_ context.Context, _ *cloudtrail.LookupEventsInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
			return &cloudtrail.LookupEventsOutput{}, nil
		},
	}

	got, err := p.Enrich(context.Background(), resource.Raw{ID: "vol-1", Kind: resource.KindVolume})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRemediate_DeleteVolume(t *testing.T) {
	var deleted []string
	p := newTestProvider()
	p.ec2Client = &mockEC2Client{
		DeleteVolumeFunc: func(_ context.Context, in *ec2.DeleteVolumeInput, _ ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
			deleted = append(deleted, aws.ToString(in.VolumeId))
			return &ec2.DeleteVolumeOutput{}, nil
		},
	}

	err := p.Remediate(context.Background(), resource.Raw{ID: "vol-9", Kind: resource.KindVolume}, cloud.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, []string{"vol-9"}, deleted)
}
