package aws

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

const (
	// A function with no invocations in this window is unused.
	invocationWindow = 30 * 24 * time.Hour
	// How far back the last invocation is searched for detached functions.
	lastInvokedLookback = 90 * 24 * time.Hour
	dayPeriod           = int32(86400)
	lambdaModifiedTime  = "2006-01-02T15:04:05.000-0700"
)

// listFunctions returns one page of Lambda functions. Tags are fetched separately.
func (p *Provider) listFunctions(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
	out, err := p.lambdaClient.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: token})
	if err != nil {
		return nil, nil, classify("list functions", err)
	}

	raws := make([]resource.Raw, 0, len(out.Functions))
	for _, fn := range out.Functions {
		raws = append(raws, p.buildFunctionRaw(fn))
	}
	return raws, out.NextMarker, nil
}

func (p *Provider) buildFunctionRaw(fn lambdatypes.FunctionConfiguration) resource.Raw {
	raw := p.newRaw(resource.KindFunction, aws.ToString(fn.FunctionArn), aws.ToString(fn.FunctionName))
	raw.Attrs["runtime"] = string(fn.Runtime)
	raw.Attrs["memory_mb"] = strconv.Itoa(int(aws.ToInt32(fn.MemorySize)))
	if modified := aws.ToString(fn.LastModified); modified != "" {
		raw.Attrs["last_modified"] = modified
		if ts, err := time.Parse(lambdaModifiedTime, modified); err == nil {
			raw.CreatedAt = ts
		}
	}
	return raw
}

func (p *Provider) functionTags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	out, err := p.lambdaClient.ListTags(ctx, &lambda.ListTagsInput{Resource: aws.String(raw.ID)})
	if err != nil {
		return nil, classify("list tags", err, codesResourceNotFound...)
	}
	return tags.Normalize(out.Tags), nil
}

func (p *Provider) invocations(ctx context.Context, name string, window time.Duration) ([]cwtypes.Datapoint, error) {
	end := p.clock()
	start := end.Add(-window)
	out, err := p.cwClient.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/Lambda"),
		MetricName: aws.String("Invocations"),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String("FunctionName"),
			Value: aws.String(name),
		}},
		StartTime:  &start,
		EndTime:    &end,
		Period:     aws.Int32(dayPeriod),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
	})
	if err != nil {
		return nil, classify("get metric statistics", err, codesResourceNotFound...)
	}
	return out.Datapoints, nil
}

// functionAttachment: a function with zero invocations in the window is detached.
func (p *Provider) functionAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	points, err := p.invocations(ctx, raw.Name, invocationWindow)
	if err != nil {
		return resource.Unknown, err
	}
	var sum float64
	for _, dp := range points {
		sum += aws.ToFloat64(dp.Sum)
	}
	if sum == 0 {
		return resource.Detached, nil
	}
	return resource.Attached, nil
}

// functionLastInvoked records the latest day with invocations, or "never".
func (p *Provider) functionLastInvoked(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	points, err := p.invocations(ctx, raw.Name, lastInvokedLookback)
	if err != nil {
		return nil, err
	}

	var last time.Time
	for _, dp := range points {
		if aws.ToFloat64(dp.Sum) > 0 && dp.Timestamp != nil && dp.Timestamp.After(last) {
			last = *dp.Timestamp
		}
	}
	if last.IsZero() {
		return map[string]string{"last_invoked_at": "never"}, nil
	}
	return map[string]string{"last_invoked_at": last.UTC().Format(time.RFC3339)}, nil
}

func (p *Provider) deleteFunction(ctx context.Context, raw resource.Raw) error {
	_, err := p.lambdaClient.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(raw.ID)})
	return classify("delete function", err, codesResourceNotFound...)
}
