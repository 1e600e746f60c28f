/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package capacity scales Auto Scaling Groups up and down on behalf of
// stop, start and scale operations, resolving the target ASG from
// cluster/nodegroup tags when the caller doesn't already know its name.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/xerrors"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 4 * time.Second
	retryMaxDelay  = 60 * time.Second
)

// Sizes is a (desired, min, max) triple for an ASG.
type Sizes struct {
	Desired int32
	Min     int32
	Max     int32
}

// StopResult reports the outcome of a stop_nodegroup call.
type StopResult struct {
	Skipped  bool // true when the ASG was already at zero
	Original Sizes
}

// Controller scales ASGs via the assumed-role autoscaling client it is
// handed per call.
type Controller struct {
	factory awsapi.ClientFactory
	log     *zap.Logger
}

// New constructs a Controller.
func New(factory awsapi.ClientFactory, log *zap.Logger) *Controller {
	return &Controller{factory: factory, log: log}
}

// StopNodeGroup scales an ASG to zero, preserving MaxSize. If the ASG is
// already at (desired=0, min=0) it is left untouched and the result is
// marked Skipped.
func (c *Controller) StopNodeGroup(ctx context.Context, accountID, region, clusterName, nodegroupName, asgName string) (StopResult, error) {
	client, err := c.factory.AutoScalingClient(ctx, accountID, region)
	if err != nil {
		return StopResult{}, err
	}

	asg, err := c.resolveASG(ctx, client, clusterName, nodegroupName, asgName)
	if err != nil {
		return StopResult{}, err
	}

	current, err := c.describe(ctx, client, asg)
	if err != nil {
		return StopResult{}, err
	}

	original := Sizes{Desired: current.DesiredCapacity, Min: current.MinSize, Max: current.MaxSize}
	if original.Desired == 0 && original.Min == 0 {
		c.log.Info("asg already at zero, skipping",
			zap.String("account_id", accountID),
			zap.String("cluster_name", clusterName),
			zap.String("asg_name", asg),
		)
		return StopResult{Skipped: true, Original: original}, nil
	}

	err = c.withRetry(ctx, func() error {
		_, err := client.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
			AutoScalingGroupName: &asg,
			MinSize:              aws.Int32(0),
			DesiredCapacity:      aws.Int32(0),
			MaxSize:              aws.Int32(original.Max),
		})
		return err
	})
	if err != nil {
		return StopResult{}, err
	}

	c.log.Info("asg stopped",
		zap.String("account_id", accountID),
		zap.String("cluster_name", clusterName),
		zap.String("asg_name", asg),
	)
	return StopResult{Original: original}, nil
}

// StartNodeGroup restores an ASG to the given sizes in a single update.
func (c *Controller) StartNodeGroup(ctx context.Context, accountID, region, clusterName, nodegroupName, asgName string, target Sizes) error {
	client, err := c.factory.AutoScalingClient(ctx, accountID, region)
	if err != nil {
		return err
	}

	asg, err := c.resolveASG(ctx, client, clusterName, nodegroupName, asgName)
	if err != nil {
		return err
	}

	err = c.withRetry(ctx, func() error {
		_, err := client.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
			AutoScalingGroupName: &asg,
			MinSize:              aws.Int32(target.Min),
			DesiredCapacity:      aws.Int32(target.Desired),
			MaxSize:              aws.Int32(target.Max),
		})
		return err
	})
	if err != nil {
		return err
	}

	c.log.Info("asg started",
		zap.String("account_id", accountID),
		zap.String("cluster_name", clusterName),
		zap.String("asg_name", asg),
		zap.Int32("desired", target.Desired),
	)
	return nil
}

// ScaleNodeGroup applies only the fields the caller provided, never
// defaulting an omitted field.
func (c *Controller) ScaleNodeGroup(ctx context.Context, accountID, region, clusterName, nodegroupName, asgName string, desired, min, max *int32) error {
	client, err := c.factory.AutoScalingClient(ctx, accountID, region)
	if err != nil {
		return err
	}

	asg, err := c.resolveASG(ctx, client, clusterName, nodegroupName, asgName)
	if err != nil {
		return err
	}

	input := &autoscaling.UpdateAutoScalingGroupInput{AutoScalingGroupName: &asg}
	if min != nil {
		input.MinSize = min
	}
	if max != nil {
		input.MaxSize = max
	}
	if desired != nil {
		input.DesiredCapacity = desired
	}

	err = c.withRetry(ctx, func() error {
		_, err := client.UpdateAutoScalingGroup(ctx, input)
		return err
	})
	if err != nil {
		return err
	}

	c.log.Info("asg scaled", zap.String("asg_name", asg))
	return nil
}

func (c *Controller) describe(ctx context.Context, client awsapi.AutoScalingAPI, asgName string) (asgtypes.AutoScalingGroup, error) {
	var out asgtypes.AutoScalingGroup
	err := c.withRetry(ctx, func() error {
		resp, err := client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: []string{asgName},
		})
		if err != nil {
			return err
		}
		if len(resp.AutoScalingGroups) == 0 {
			return &xerrors.NotFoundError{Resource: fmt.Sprintf("asg %s", asgName)}
		}
		out = resp.AutoScalingGroups[0]
		return nil
	})
	return out, err
}

// resolveASG implements the §4.C ASG resolution fallback chain: prefer
// an ASG tagged with both the cluster and the nodegroup name; else one
// whose name contains the nodegroup name; else the first cluster match.
func (c *Controller) resolveASG(ctx context.Context, client awsapi.AutoScalingAPI, clusterName, nodegroupName, asgName string) (string, error) {
	if asgName != "" {
		return asgName, nil
	}

	k8sClusterTag := "kubernetes.io/cluster/" + clusterName

	var firstClusterMatch string
	var containsMatch string

	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(client, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", err
		}
		for _, asg := range page.AutoScalingGroups {
			tags := make(map[string]string, len(asg.Tags))
			for _, t := range asg.Tags {
				tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}

			if tags["eks:cluster-name"] != clusterName {
				if _, ok := tags[k8sClusterTag]; !ok {
					continue
				}
			}

			name := aws.ToString(asg.AutoScalingGroupName)

			if tags["eks:nodegroup-name"] == nodegroupName && nodegroupName != "" {
				return name, nil
			}
			if containsMatch == "" && strings.Contains(name, nodegroupName) {
				containsMatch = name
			}
			if firstClusterMatch == "" {
				firstClusterMatch = name
			}
		}
	}

	if containsMatch != "" {
		return containsMatch, nil
	}
	if firstClusterMatch != "" {
		return firstClusterMatch, nil
	}
	return "", &xerrors.NotFoundError{Resource: fmt.Sprintf("asg for cluster=%s nodegroup=%s", clusterName, nodegroupName)}
}

func (c *Controller) withRetry(ctx context.Context, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isThrottled),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("retrying asg api call", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil && isThrottled(err) {
		return &xerrors.ThrottledError{Op: "autoscaling", Err: err}
	}
	return err
}

// isThrottled classifies an AWS error as retriable: throttling and
// other transient server-side error codes.
func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException", "ServiceUnavailable", "InternalFailure":
		return true
	default:
		return false
	}
}
