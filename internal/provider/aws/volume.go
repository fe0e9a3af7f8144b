package aws

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// CloudTrail keeps 90 days of management events.
const trailLookback = 90 * 24 * time.Hour

// listVolumes returns one page of EBS volumes with their tags.
func (p *Provider) listVolumes(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: token})
	if err != nil {
		return nil, nil, classify("describe volumes", err)
	}

	raws := make([]resource.Raw, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		raws = append(raws, p.buildVolumeRaw(v))
	}
	return raws, out.NextToken, nil
}

func (p *Provider) buildVolumeRaw(v ec2types.Volume) resource.Raw {
	t := tags.Normalize(v.Tags)
	raw := p.newRaw(resource.KindVolume, aws.ToString(v.VolumeId), t["Name"])
	raw.Tags = t
	raw.Attrs["size_gb"] = strconv.Itoa(int(aws.ToInt32(v.Size)))
	raw.Attrs["state"] = string(v.State)
	raw.Attrs["volume_type"] = string(v.VolumeType)
	raw.Attrs["az"] = aws.ToString(v.AvailabilityZone)
	if v.CreateTime != nil {
		raw.CreatedAt = *v.CreateTime
	}
	return raw
}

// volumeAttachment re-reads the volume: no attachments means detached.
func (p *Provider) volumeAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	out, err := p.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{raw.ID}})
	if err != nil {
		return resource.Unknown, classify("describe volumes", err, codesVolumeNotFound...)
	}
	for _, v := range out.Volumes {
		if len(v.Attachments) > 0 {
			return resource.Attached, nil
		}
	}
	return resource.Detached, nil
}

// volumeDetachEvent records the most recent DetachVolume call from CloudTrail.
func (p *Provider) volumeDetachEvent(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	end := p.clock()
	start := end.Add(-trailLookback)

	out, err := p.trailClient.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
		LookupAttributes: []cttypes.LookupAttribute{{
			AttributeKey:   cttypes.LookupAttributeKeyResourceName,
			AttributeValue: aws.String(raw.ID),
		}},
		StartTime:  &start,
		EndTime:    &end,
		MaxResults: aws.Int32(50),
	})
	if err != nil {
		return nil, classify("lookup events", err)
	}

	var latest *cttypes.Event
	for i := range out.Events {
		ev := &out.Events[i]
		if aws.ToString(ev.EventName) != "DetachVolume" || ev.EventTime == nil {
			continue
		}
		if latest == nil || ev.EventTime.After(*latest.EventTime) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	return map[string]string{
		"detached_at": latest.EventTime.UTC().Format(time.RFC3339),
		"detached_by": aws.ToString(latest.Username),
	}, nil
}

func (p *Provider) deleteVolume(ctx context.Context, raw resource.Raw) error {
	_, err := p.ec2Client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(raw.ID)})
	return classify("delete volume", err, codesVolumeNotFound...)
}
