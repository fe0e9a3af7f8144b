package aws

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/tagsweep/internal/cloud"
)

// Throttle codes some services return that the SDK default set misses.
var extraThrottleCodes = map[string]struct{}{
	"TooManyRequestsException": {},
	"RequestLimitExceeded":     {},
	"SlowDown":                 {},
	"ThrottledException":       {},
}

// Not-found codes per kind family.
var (
	codesLoadBalancerNotFound = []string{"LoadBalancerNotFound"}
	codesTargetGroupNotFound  = []string{"TargetGroupNotFound"}
	codesVolumeNotFound       = []string{"InvalidVolume.NotFound"}
	codesInstanceNotFound     = []string{"InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed"}
	codesResourceNotFound     = []string{"ResourceNotFoundException"}
	codesCacheNotFound        = []string{"CacheClusterNotFound"}
	codesMemoryDBNotFound     = []string{"ClusterNotFoundFault"}
	codesDBInstanceNotFound   = []string{"DBInstanceNotFound", "DBInstanceNotFoundFault"}
	codesDBClusterNotFound    = []string{"DBClusterNotFoundFault"}
	codesKafkaNotFound        = []string{"NotFoundException"}
)

// classify tags err with its cloud error class. The message is kept verbatim.
func classify(op string, err error, notFound ...string) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if isThrottleCode(code) {
			return cloud.NewError(cloud.ErrThrottled, op, err)
		}
		if slices.Contains(notFound, code) {
			return cloud.NewError(cloud.ErrNotFound, op, err)
		}
	}

	return cloud.NewError(cloud.ErrPermanent, op, err)
}

func isThrottleCode(code string) bool {
	if _, ok := retry.DefaultThrottleErrorCodes[code]; ok {
		return true
	}
	_, ok := extraThrottleCodes[code]
	return ok
}

// notFound reports a lookup that succeeded but returned no matching object.
func notFound(op, id string) error {
	return cloud.NewError(cloud.ErrNotFound, op, fmt.Errorf("%s: %s does not exist", op, id))
}
