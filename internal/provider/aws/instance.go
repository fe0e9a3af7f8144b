package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// listInstances returns one page of running instances with their tags.
func (p *Provider) listInstances(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		NextToken: token,
		Filters: []ec2types.Filter{{
			Name:   aws.String("instance-state-name"),
			Values: []string{string(ec2types.InstanceStateNameRunning)},
		}},
	})
	if err != nil {
		return nil, nil, classify("describe instances", err)
	}

	var raws []resource.Raw
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			raws = append(raws, p.buildInstanceRaw(inst))
		}
	}
	return raws, out.NextToken, nil
}

func (p *Provider) buildInstanceRaw(inst ec2types.Instance) resource.Raw {
	t := tags.Normalize(inst.Tags)
	raw := p.newRaw(resource.KindInstance, aws.ToString(inst.InstanceId), t["Name"])
	raw.Tags = t
	raw.Attrs["instance_type"] = string(inst.InstanceType)
	if inst.State != nil {
		raw.Attrs["state"] = string(inst.State.Name)
	}
	if devices := retainedVolumes(inst); len(devices) > 0 {
		raw.Attrs["retained_devices"] = strings.Join(devices, ",")
	}
	if inst.LaunchTime != nil {
		raw.CreatedAt = *inst.LaunchTime
	}
	return raw
}

// retainedVolumes returns the non-root EBS devices that survive termination.
func retainedVolumes(inst ec2types.Instance) []string {
	root := aws.ToString(inst.RootDeviceName)
	var devices []string
	for _, m := range inst.BlockDeviceMappings {
		name := aws.ToString(m.DeviceName)
		if name == root || m.Ebs == nil {
			continue
		}
		if !aws.ToBool(m.Ebs.DeleteOnTermination) {
			devices = append(devices, name)
		}
	}
	return devices
}

func (p *Provider) describeInstance(ctx context.Context, id string) (ec2types.Instance, error) {
	out, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return ec2types.Instance{}, classify("describe instances", err, codesInstanceNotFound...)
	}
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) == id {
				return inst, nil
			}
		}
	}
	return ec2types.Instance{}, notFound("describe instances", id)
}

// instanceAttachment marks an instance detached when terminating it would
// leave EBS volumes behind.
func (p *Provider) instanceAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	inst, err := p.describeInstance(ctx, raw.ID)
	if err != nil {
		return resource.Unknown, err
	}
	if len(retainedVolumes(inst)) > 0 {
		return resource.Detached, nil
	}
	return resource.Attached, nil
}

// setDeleteOnTermination flips DeleteOnTermination on every retained device.
func (p *Provider) setDeleteOnTermination(ctx context.Context, raw resource.Raw) error {
	inst, err := p.describeInstance(ctx, raw.ID)
	if err != nil {
		return err
	}

	devices := retainedVolumes(inst)
	if len(devices) == 0 {
		return nil
	}

	mappings := make([]ec2types.InstanceBlockDeviceMappingSpecification, 0, len(devices))
	for _, d := range devices {
		mappings = append(mappings, ec2types.InstanceBlockDeviceMappingSpecification{
			DeviceName: aws.String(d),
			Ebs: &ec2types.EbsInstanceBlockDeviceSpecification{
				DeleteOnTermination: aws.Bool(true),
			},
		})
	}

	_, err = p.ec2Client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:          aws.String(raw.ID),
		BlockDeviceMappings: mappings,
	})
	return classify("modify instance attribute", err, codesInstanceNotFound...)
}
