package discovery

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
)

type fakeEKS struct {
	clusterNames []string
	clusters     map[string]ekstypes.Cluster
}

func (f *fakeEKS) ListClusters(ctx context.Context, _ *eks.ListClustersInput, _ ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
	return &eks.ListClustersOutput{Clusters: f.clusterNames}, nil
}

func (f *fakeEKS) DescribeCluster(ctx context.Context, in *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	c, ok := f.clusters[*in.Name]
	if !ok {
		return nil, aws.ErrMissingRegion
	}
	return &eks.DescribeClusterOutput{Cluster: &c}, nil
}

type fakeASG struct {
	groups []asgtypes.AutoScalingGroup
}

func (f *fakeASG) DescribeAutoScalingGroups(ctx context.Context, _ *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return &autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: f.groups}, nil
}

func (f *fakeASG) UpdateAutoScalingGroup(ctx context.Context, _ *autoscaling.UpdateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

type fakeOrgs struct {
	accounts []orgtypes.Account
}

func (f *fakeOrgs) ListAccounts(ctx context.Context, _ *organizations.ListAccountsInput, _ ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	return &organizations.ListAccountsOutput{Accounts: f.accounts}, nil
}

type fakeFactory struct {
	eks awsapi.EKSAPI
	asg awsapi.AutoScalingAPI
}

func (f *fakeFactory) EKSClient(ctx context.Context, accountID, region string) (awsapi.EKSAPI, error) {
	return f.eks, nil
}

func (f *fakeFactory) AutoScalingClient(ctx context.Context, accountID, region string) (awsapi.AutoScalingAPI, error) {
	return f.asg, nil
}

func tag(key, value string) asgtypes.TagDescription {
	return asgtypes.TagDescription{Key: &key, Value: &value}
}

func TestDiscoverReturnsMatchedClusterAndNodeGroup(t *testing.T) {
	eksFake := &fakeEKS{
		clusterNames: []string{"staging-cluster"},
		clusters: map[string]ekstypes.Cluster{
			"staging-cluster": {
				Name:   aws.String("staging-cluster"),
				Arn:    aws.String("arn:aws:eks:us-east-1:111111111111:cluster/staging-cluster"),
				Status: ekstypes.ClusterStatusActive,
				Tags:   map[string]string{"environment": "staging"},
			},
		},
	}
	asgFake := &fakeASG{
		groups: []asgtypes.AutoScalingGroup{
			{
				AutoScalingGroupName: aws.String("staging-ng-1"),
				AutoScalingGroupARN:  aws.String("arn:aws:autoscaling:us-east-1:111111111111:autoScalingGroup:x"),
				DesiredCapacity:      aws.Int32(3),
				MinSize:              aws.Int32(1),
				MaxSize:              aws.Int32(5),
				Tags: []asgtypes.TagDescription{
					tag("eks:cluster-name", "staging-cluster"),
					tag("eks:nodegroup-name", "workers"),
				},
			},
		},
	}

	d := New(&fakeFactory{eks: eksFake, asg: asgFake}, &fakeOrgs{}, "000000000000", []string{"111111111111"}, []string{"us-east-1"}, 5, zap.NewNop())
	clusters := d.Discover(context.Background(), nil)

	require.Len(t, clusters, 1)
	require.Equal(t, "staging-cluster", clusters[0].ClusterName)
	require.Len(t, clusters[0].NodeGroups, 1)
	require.Equal(t, "workers", clusters[0].NodeGroups[0].Name)
	require.Equal(t, "ACTIVE", clusters[0].NodeGroups[0].Status)
	require.Equal(t, "ON_DEMAND", clusters[0].NodeGroups[0].CapacityType)
}

func TestDiscoverDropsProductionClusters(t *testing.T) {
	eksFake := &fakeEKS{
		clusterNames: []string{"prod-cluster"},
		clusters: map[string]ekstypes.Cluster{
			"prod-cluster": {
				Name:   aws.String("prod-cluster"),
				Status: ekstypes.ClusterStatusActive,
				Tags:   map[string]string{"Environment": "Production"},
			},
		},
	}
	d := New(&fakeFactory{eks: eksFake, asg: &fakeASG{}}, &fakeOrgs{}, "000000000000", []string{"111111111111"}, []string{"us-east-1"}, 5, zap.NewNop())

	clusters := d.Discover(context.Background(), nil)
	require.Empty(t, clusters)
}

func TestDiscoverAppliesLabelFilter(t *testing.T) {
	eksFake := &fakeEKS{
		clusterNames: []string{"team-a", "team-b"},
		clusters: map[string]ekstypes.Cluster{
			"team-a": {Name: aws.String("team-a"), Status: ekstypes.ClusterStatusActive, Tags: map[string]string{"team": "a"}},
			"team-b": {Name: aws.String("team-b"), Status: ekstypes.ClusterStatusActive, Tags: map[string]string{"team": "b"}},
		},
	}
	d := New(&fakeFactory{eks: eksFake, asg: &fakeASG{}}, &fakeOrgs{}, "000000000000", []string{"111111111111"}, []string{"us-east-1"}, 5, zap.NewNop())

	clusters := d.Discover(context.Background(), LabelFilter{"team": "a"})
	require.Len(t, clusters, 1)
	require.Equal(t, "team-a", clusters[0].ClusterName)
}

func TestDiscoverSkipsTaggedNodeGroup(t *testing.T) {
	eksFake := &fakeEKS{
		clusterNames: []string{"c1"},
		clusters: map[string]ekstypes.Cluster{
			"c1": {Name: aws.String("c1"), Status: ekstypes.ClusterStatusActive, Tags: map[string]string{}},
		},
	}
	asgFake := &fakeASG{
		groups: []asgtypes.AutoScalingGroup{
			{
				AutoScalingGroupName: aws.String("skip-me"),
				DesiredCapacity:      aws.Int32(1),
				MinSize:              aws.Int32(1),
				MaxSize:              aws.Int32(1),
				Tags: []asgtypes.TagDescription{
					tag("eks:cluster-name", "c1"),
					tag("eks-operator/skip", "true"),
				},
			},
		},
	}
	d := New(&fakeFactory{eks: eksFake, asg: asgFake}, &fakeOrgs{}, "000000000000", []string{"111111111111"}, []string{"us-east-1"}, 5, zap.NewNop())

	clusters := d.Discover(context.Background(), nil)
	require.Len(t, clusters, 1)
	require.Empty(t, clusters[0].NodeGroups)
}

func TestDiscoverResolvesAccountsFromOrganizationsWhenNoneConfigured(t *testing.T) {
	eksFake := &fakeEKS{clusterNames: nil, clusters: map[string]ekstypes.Cluster{}}
	orgs := &fakeOrgs{accounts: []orgtypes.Account{
		{Id: aws.String("111111111111"), Status: orgtypes.AccountStatusActive},
		{Id: aws.String("222222222222"), Status: orgtypes.AccountStatusSuspended},
		{Id: aws.String("000000000000"), Status: orgtypes.AccountStatusActive},
	}}
	d := New(&fakeFactory{eks: eksFake, asg: &fakeASG{}}, orgs, "000000000000", nil, []string{"us-east-1"}, 5, zap.NewNop())

	clusters := d.Discover(context.Background(), nil)
	require.Empty(t, clusters)
}

func TestDiscoverDerivesStoppedStatusFromZeroSizes(t *testing.T) {
	eksFake := &fakeEKS{
		clusterNames: []string{"c1"},
		clusters: map[string]ekstypes.Cluster{
			"c1": {Name: aws.String("c1"), Status: ekstypes.ClusterStatusActive, Tags: map[string]string{}},
		},
	}
	asgFake := &fakeASG{
		groups: []asgtypes.AutoScalingGroup{
			{
				AutoScalingGroupName: aws.String("stopped-ng"),
				DesiredCapacity:      aws.Int32(0),
				MinSize:              aws.Int32(0),
				MaxSize:              aws.Int32(5),
				Tags:                 []asgtypes.TagDescription{tag("eks:cluster-name", "c1")},
			},
		},
	}
	d := New(&fakeFactory{eks: eksFake, asg: asgFake}, &fakeOrgs{}, "000000000000", []string{"111111111111"}, []string{"us-east-1"}, 5, zap.NewNop())

	clusters := d.Discover(context.Background(), nil)
	require.Len(t, clusters, 1)
	require.Equal(t, "STOPPED", clusters[0].NodeGroups[0].Status)
}
