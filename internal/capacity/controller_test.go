package capacity

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
)

type fakeASG struct {
	groups        []asgtypes.AutoScalingGroup
	updateCalls   []*autoscaling.UpdateAutoScalingGroupInput
	describeCalls int
}

func (f *fakeASG) DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	f.describeCalls++
	if len(in.AutoScalingGroupNames) > 0 {
		name := in.AutoScalingGroupNames[0]
		for _, g := range f.groups {
			if aws.ToString(g.AutoScalingGroupName) == name {
				return &autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: []asgtypes.AutoScalingGroup{g}}, nil
			}
		}
		return &autoscaling.DescribeAutoScalingGroupsOutput{}, nil
	}
	return &autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: f.groups}, nil
}

func (f *fakeASG) UpdateAutoScalingGroup(ctx context.Context, in *autoscaling.UpdateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	f.updateCalls = append(f.updateCalls, in)
	for i, g := range f.groups {
		if aws.ToString(g.AutoScalingGroupName) == aws.ToString(in.AutoScalingGroupName) {
			if in.MinSize != nil {
				f.groups[i].MinSize = in.MinSize
			}
			if in.MaxSize != nil {
				f.groups[i].MaxSize = in.MaxSize
			}
			if in.DesiredCapacity != nil {
				f.groups[i].DesiredCapacity = in.DesiredCapacity
			}
		}
	}
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

type fakeFactory struct {
	asg *fakeASG
}

func (f *fakeFactory) EKSClient(ctx context.Context, accountID, region string) (awsapi.EKSAPI, error) {
	return nil, nil
}

func (f *fakeFactory) AutoScalingClient(ctx context.Context, accountID, region string) (awsapi.AutoScalingAPI, error) {
	return f.asg, nil
}

func tag(key, value string) asgtypes.TagDescription {
	return asgtypes.TagDescription{Key: &key, Value: &value}
}

func TestStopNodeGroupScalesToZero(t *testing.T) {
	asg := &fakeASG{groups: []asgtypes.AutoScalingGroup{
		{AutoScalingGroupName: aws.String("ng-1"), DesiredCapacity: aws.Int32(3), MinSize: aws.Int32(1), MaxSize: aws.Int32(5)},
	}}
	c := New(&fakeFactory{asg: asg}, zap.NewNop())

	result, err := c.StopNodeGroup(context.Background(), "111111111111", "us-east-1", "cluster-a", "workers", "ng-1")
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, Sizes{Desired: 3, Min: 1, Max: 5}, result.Original)

	require.Len(t, asg.updateCalls, 1)
	require.EqualValues(t, 0, *asg.updateCalls[0].MinSize)
	require.EqualValues(t, 0, *asg.updateCalls[0].DesiredCapacity)
	require.EqualValues(t, 5, *asg.updateCalls[0].MaxSize)
}

func TestStopNodeGroupSkipsWhenAlreadyZero(t *testing.T) {
	asg := &fakeASG{groups: []asgtypes.AutoScalingGroup{
		{AutoScalingGroupName: aws.String("ng-1"), DesiredCapacity: aws.Int32(0), MinSize: aws.Int32(0), MaxSize: aws.Int32(5)},
	}}
	c := New(&fakeFactory{asg: asg}, zap.NewNop())

	result, err := c.StopNodeGroup(context.Background(), "111111111111", "us-east-1", "cluster-a", "workers", "ng-1")
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Empty(t, asg.updateCalls)
}

func TestStartNodeGroupRestoresSizes(t *testing.T) {
	asg := &fakeASG{groups: []asgtypes.AutoScalingGroup{
		{AutoScalingGroupName: aws.String("ng-1"), DesiredCapacity: aws.Int32(0), MinSize: aws.Int32(0), MaxSize: aws.Int32(5)},
	}}
	c := New(&fakeFactory{asg: asg}, zap.NewNop())

	err := c.StartNodeGroup(context.Background(), "111111111111", "us-east-1", "cluster-a", "workers", "ng-1", Sizes{Desired: 3, Min: 1, Max: 5})
	require.NoError(t, err)
	require.Len(t, asg.updateCalls, 1)
	require.EqualValues(t, 3, *asg.updateCalls[0].DesiredCapacity)
}

func TestScaleNodeGroupOnlyAppliesProvidedFields(t *testing.T) {
	asg := &fakeASG{groups: []asgtypes.AutoScalingGroup{
		{AutoScalingGroupName: aws.String("ng-1"), DesiredCapacity: aws.Int32(3), MinSize: aws.Int32(1), MaxSize: aws.Int32(5)},
	}}
	c := New(&fakeFactory{asg: asg}, zap.NewNop())

	desired := int32(4)
	err := c.ScaleNodeGroup(context.Background(), "111111111111", "us-east-1", "cluster-a", "workers", "ng-1", &desired, nil, nil)
	require.NoError(t, err)
	require.Len(t, asg.updateCalls, 1)
	require.NotNil(t, asg.updateCalls[0].DesiredCapacity)
	require.Nil(t, asg.updateCalls[0].MinSize)
	require.Nil(t, asg.updateCalls[0].MaxSize)
}

func TestResolveASGPrefersNodegroupTagMatch(t *testing.T) {
	asg := &fakeASG{groups: []asgtypes.AutoScalingGroup{
		{
			AutoScalingGroupName: aws.String("generic-name"),
			DesiredCapacity:      aws.Int32(2),
			MinSize:              aws.Int32(1),
			MaxSize:              aws.Int32(4),
			Tags: []asgtypes.TagDescription{
				tag("eks:cluster-name", "cluster-a"),
				tag("eks:nodegroup-name", "workers"),
			},
		},
		{
			AutoScalingGroupName: aws.String("other"),
			DesiredCapacity:      aws.Int32(2),
			MinSize:              aws.Int32(1),
			MaxSize:              aws.Int32(4),
			Tags: []asgtypes.TagDescription{
				tag("eks:cluster-name", "cluster-a"),
				tag("eks:nodegroup-name", "other-ng"),
			},
		},
	}}
	c := New(&fakeFactory{asg: asg}, zap.NewNop())

	result, err := c.StopNodeGroup(context.Background(), "111111111111", "us-east-1", "cluster-a", "workers", "")
	require.NoError(t, err)
	require.Equal(t, Sizes{Desired: 2, Min: 1, Max: 4}, result.Original)
	require.Len(t, asg.updateCalls, 1)
	require.Equal(t, "generic-name", *asg.updateCalls[0].AutoScalingGroupName)
}

func TestResolveASGReturnsNotFoundWhenNoMatch(t *testing.T) {
	asg := &fakeASG{}
	c := New(&fakeFactory{asg: asg}, zap.NewNop())

	_, err := c.StopNodeGroup(context.Background(), "111111111111", "us-east-1", "cluster-a", "workers", "")
	require.Error(t, err)
}
