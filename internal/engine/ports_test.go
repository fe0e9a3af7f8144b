package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/cloud/cloudtest"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

func targetGroup(name, targetType string) resource.Raw {
	return resource.Raw{
		ID:       "arn:tg/" + name,
		Kind:     resource.KindTargetGroup,
		Provider: "fake",
		Region:   "test-1",
		Name:     name,
		Tags:     map[string]string{},
		Attrs:    map[string]string{"target_type": targetType},
	}
}

func portSource() *cloudtest.Source {
	return &cloudtest.Source{
		Listing: map[resource.Kind][][]resource.Raw{
			resource.KindTargetGroup: {
				{targetGroup("web", "instance"), targetGroup("api", "instance")},
				{targetGroup("lambda", "lambda"), targetGroup("batch", "instance")},
			},
		},
		TargetPortsFunc: func(_ context.Context, raw resource.Raw) (map[string][]int32, error) {
			switch raw.Name {
			case "web":
				return map[string][]int32{
					"i-2": {8080, 8081, 8082, 8083, 8084, 8085},
					"i-1": {80, 443, 8000, 8001, 8002},
					"i-3": {80},
				}, nil
			case "api":
				return map[string][]int32{"i-9": {1, 2, 3, 4, 5}}, nil
			case "batch":
				return map[string][]int32{"i-7": {9000, 9001}}, nil
			}
			return nil, errors.New("unexpected lookup for " + raw.Name)
		},
	}
}

func TestPortUsage_Threshold(t *testing.T) {
	e := New(portSource(), testOptions())

	usage, err := e.PortUsage(context.Background(), DefaultPortThreshold)

	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, "api", usage[0].TargetGroup)
	assert.Equal(t, "i-9", usage[0].TargetID)
	assert.Equal(t, "web", usage[1].TargetGroup)
	assert.Equal(t, "i-1", usage[1].TargetID)
	assert.Equal(t, 5, usage[1].NumPorts())
	assert.Equal(t, "i-2", usage[2].TargetID)
	assert.Equal(t, "arn:tg/web", usage[2].TargetGroupID)
	assert.Equal(t, "test-1", usage[2].Region)
}

func TestPortUsage_LowerThreshold(t *testing.T) {
	e := New(portSource(), testOptions())

	usage, err := e.PortUsage(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, usage, 5, "non-instance groups are never inspected")
}

func TestPortUsage_NamePrefix(t *testing.T) {
	opts := testOptions()
	opts.Filter = filter.New(filter.Config{NamePrefix: "web"})
	e := New(portSource(), opts)

	usage, err := e.PortUsage(context.Background(), 5)

	require.NoError(t, err)
	require.Len(t, usage, 2)
	for _, u := range usage {
		assert.Equal(t, "web", u.TargetGroup)
	}
}

func TestPortUsage_FailedGroupIsSkipped(t *testing.T) {
	src := portSource()
	next := src.TargetPortsFunc
	src.TargetPortsFunc = func(ctx context.Context, raw resource.Raw) (map[string][]int32, error) {
		if raw.Name == "web" {
			return nil, cloud.NewError(cloud.ErrPermanent, "DescribeTargetHealth", errors.New("AccessDenied"))
		}
		return next(ctx, raw)
	}
	e := New(src, testOptions())

	usage, err := e.PortUsage(context.Background(), 5)

	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "api", usage[0].TargetGroup)
}

func TestPortUsage_ThrottledLookupRetried(t *testing.T) {
	src := portSource()
	next := src.TargetPortsFunc
	var mu sync.Mutex
	calls := 0
	src.TargetPortsFunc = func(ctx context.Context, raw resource.Raw) (map[string][]int32, error) {
		if raw.Name == "api" {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return nil, throttled("DescribeTargetHealth")
			}
		}
		return next(ctx, raw)
	}
	e := New(src, testOptions())

	usage, err := e.PortUsage(context.Background(), 5)

	require.NoError(t, err)
	assert.Len(t, usage, 3)
	assert.Equal(t, 2, calls)
}

func TestPortUsage_InvalidThreshold(t *testing.T) {
	e := New(portSource(), testOptions())
	_, err := e.PortUsage(context.Background(), 0)
	assert.ErrorContains(t, err, "threshold")
}
