package worker

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
)

type fakeASG struct {
	groups map[string]asgtypes.AutoScalingGroup
}

func newFakeASG(groups ...asgtypes.AutoScalingGroup) *fakeASG {
	f := &fakeASG{groups: map[string]asgtypes.AutoScalingGroup{}}
	for _, g := range groups {
		f.groups[aws.ToString(g.AutoScalingGroupName)] = g
	}
	return f
}

func asgGroup(name string, desired, min, max int32) asgtypes.AutoScalingGroup {
	return asgtypes.AutoScalingGroup{
		AutoScalingGroupName: aws.String(name),
		DesiredCapacity:      aws.Int32(desired),
		MinSize:              aws.Int32(min),
		MaxSize:              aws.Int32(max),
	}
}

func (f *fakeASG) DescribeAutoScalingGroups(_ context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	var out []asgtypes.AutoScalingGroup
	for _, name := range in.AutoScalingGroupNames {
		if g, ok := f.groups[name]; ok {
			out = append(out, g)
		}
	}
	return &autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: out}, nil
}

func (f *fakeASG) UpdateAutoScalingGroup(_ context.Context, in *autoscaling.UpdateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	name := aws.ToString(in.AutoScalingGroupName)
	g, ok := f.groups[name]
	if !ok {
		return nil, &notFoundErr{name: name}
	}
	if in.DesiredCapacity != nil {
		g.DesiredCapacity = in.DesiredCapacity
	}
	if in.MinSize != nil {
		g.MinSize = in.MinSize
	}
	if in.MaxSize != nil {
		g.MaxSize = in.MaxSize
	}
	f.groups[name] = g
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

type notFoundErr struct{ name string }

func (e *notFoundErr) Error() string { return "asg not found: " + e.name }

type fakeFactory struct {
	asg *fakeASG
}

func (f *fakeFactory) EKSClient(_ context.Context, _, _ string) (awsapi.EKSAPI, error) {
	return nil, nil
}

func (f *fakeFactory) AutoScalingClient(_ context.Context, _, _ string) (awsapi.AutoScalingAPI, error) {
	return f.asg, nil
}
