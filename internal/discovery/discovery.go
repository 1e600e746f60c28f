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

package discovery

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
)

const (
	skipTagKey    = "eks-operator/skip"
	nodegroupTag  = "eks:nodegroup-name"
	clusterTagKey = "eks:cluster-name"
)

// Discoverer enumerates clusters and their node groups across the
// configured accounts and regions. A Discoverer is safe for concurrent
// use; Discover itself fans out internally and returns once every
// (account, region) task has completed or failed.
type Discoverer struct {
	factory             awsapi.ClientFactory
	organizations       awsapi.OrganizationsAPI
	managementAccountID string
	targetAccountIDs    []string
	targetRegions       []string
	maxWorkers          int
	log                 *zap.Logger
}

// New constructs a Discoverer. targetAccountIDs, if non-empty, is used
// verbatim and Organizations is never consulted.
func New(factory awsapi.ClientFactory, orgClient awsapi.OrganizationsAPI, managementAccountID string, targetAccountIDs, targetRegions []string, maxWorkers int, log *zap.Logger) *Discoverer {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Discoverer{
		factory:             factory,
		organizations:       orgClient,
		managementAccountID: managementAccountID,
		targetAccountIDs:    targetAccountIDs,
		targetRegions:       targetRegions,
		maxWorkers:          maxWorkers,
		log:                 log,
	}
}

// Discover runs the full pipeline: account resolution, bounded parallel
// fan-out per (account, region), and per-cluster filtering.
func (d *Discoverer) Discover(ctx context.Context, filter LabelFilter) []Cluster {
	accountIDs := d.resolveAccountIDs(ctx)

	d.log.Info("starting multi-region EKS discovery",
		zap.Int("account_count", len(accountIDs)),
		zap.Strings("regions", d.targetRegions),
	)

	type task struct {
		accountID string
		region    string
	}
	var tasks []task
	for _, acct := range accountIDs {
		for _, region := range d.targetRegions {
			tasks = append(tasks, task{accountID: acct, region: region})
		}
	}

	results := make([][]Cluster, len(tasks))
	sem := make(chan struct{}, d.maxWorkers)
	var wg sync.WaitGroup

	for i, t := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, t task) {
			defer wg.Done()
			defer func() { <-sem }()

			clusters, err := d.discoverAccountClusters(ctx, t.accountID, t.region, filter)
			if err != nil {
				d.log.Error("discovery task failed",
					zap.String("account_id", t.accountID),
					zap.String("region", t.region),
					zap.Error(err),
				)
				return
			}
			results[i] = clusters
		}(i, t)
	}
	wg.Wait()

	var all []Cluster
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func (d *Discoverer) resolveAccountIDs(ctx context.Context) []string {
	if len(d.targetAccountIDs) > 0 {
		d.log.Info("using explicit target accounts", zap.Int("count", len(d.targetAccountIDs)))
		return d.targetAccountIDs
	}

	var accountIDs []string
	paginator := organizations.NewListAccountsPaginator(d.organizations, &organizations.ListAccountsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			d.log.Error("failed to list accounts from organizations", zap.Error(err))
			return nil
		}
		for _, acct := range page.Accounts {
			if acct.Status == orgtypes.AccountStatusActive && aws.ToString(acct.Id) != d.managementAccountID {
				accountIDs = append(accountIDs, aws.ToString(acct.Id))
			}
		}
	}

	d.log.Info("discovered accounts from organizations", zap.Int("count", len(accountIDs)))
	return accountIDs
}

func (d *Discoverer) discoverAccountClusters(ctx context.Context, accountID, region string, filter LabelFilter) ([]Cluster, error) {
	eksClient, err := d.factory.EKSClient(ctx, accountID, region)
	if err != nil {
		return nil, err
	}
	asgClient, err := d.factory.AutoScalingClient(ctx, accountID, region)
	if err != nil {
		return nil, err
	}

	var names []string
	eksPaginator := eks.NewListClustersPaginator(eksClient, &eks.ListClustersInput{})
	for eksPaginator.HasMorePages() {
		page, err := eksPaginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, page.Clusters...)
	}

	var clusters []Cluster
	for _, name := range names {
		cluster, ok := d.describeCluster(ctx, eksClient, accountID, region, name)
		if !ok {
			continue
		}

		if isProductionTagged(cluster.Tags) {
			d.log.Warn("skipping production cluster",
				zap.String("account_id", accountID),
				zap.String("cluster_name", name),
			)
			continue
		}

		if filter != nil && !filter.matches(cluster.Tags) {
			continue
		}

		cluster.NodeGroups = d.discoverNodeGroups(ctx, asgClient, accountID, name)
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

func (d *Discoverer) describeCluster(ctx context.Context, eksClient awsapi.EKSAPI, accountID, region, name string) (Cluster, bool) {
	out, err := eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: &name})
	if err != nil {
		d.log.Error("failed to describe cluster",
			zap.String("account_id", accountID),
			zap.String("cluster_name", name),
			zap.Error(err),
		)
		return Cluster{}, false
	}

	c := out.Cluster
	version := "unknown"
	if c.Version != nil {
		version = *c.Version
	}
	return Cluster{
		AccountID:         accountID,
		Region:            region,
		ClusterName:       aws.ToString(c.Name),
		ClusterARN:        aws.ToString(c.Arn),
		ClusterStatus:     string(c.Status),
		KubernetesVersion: version,
		Tags:              c.Tags,
	}, true
}

// isProductionTagged implements the mandatory production guard: any tag
// whose key is "env" or "environment" (case-insensitive) with a value of
// "prod" or "production" (case-insensitive) excludes the cluster.
func isProductionTagged(tags map[string]string) bool {
	for k, v := range tags {
		lk := strings.ToLower(k)
		if lk != "env" && lk != "environment" {
			continue
		}
		lv := strings.ToLower(v)
		if lv == "prod" || lv == "production" {
			return true
		}
	}
	return false
}

func (d *Discoverer) discoverNodeGroups(ctx context.Context, asgClient awsapi.AutoScalingAPI, accountID, clusterName string) []NodeGroup {
	var all []asgtypes.AutoScalingGroup
	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(asgClient, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			d.log.Error("failed to discover ASGs",
				zap.String("account_id", accountID),
				zap.String("cluster_name", clusterName),
				zap.Error(err),
			)
			return nil
		}
		all = append(all, page.AutoScalingGroups...)
	}

	k8sClusterTag := "kubernetes.io/cluster/" + clusterName

	var matched []NodeGroup
	for _, asg := range all {
		tags := asgTags(asg)

		if tags[clusterTagKey] != clusterName {
			if _, ok := tags[k8sClusterTag]; !ok {
				continue
			}
		}

		if tags[skipTagKey] == "true" {
			d.log.Info("skipping node group due to skip tag",
				zap.String("asg_name", aws.ToString(asg.AutoScalingGroupName)),
				zap.String("cluster_name", clusterName),
			)
			continue
		}

		matched = append(matched, normalizeASG(asg, tags))
	}
	return matched
}

func asgTags(asg asgtypes.AutoScalingGroup) map[string]string {
	return lo.SliceToMap(asg.Tags, func(t asgtypes.TagDescription) (string, string) {
		return aws.ToString(t.Key), aws.ToString(t.Value)
	})
}

func normalizeASG(asg asgtypes.AutoScalingGroup, tags map[string]string) NodeGroup {
	name := tags[nodegroupTag]
	if name == "" {
		name = tags["Name"]
	}
	if name == "" {
		name = aws.ToString(asg.AutoScalingGroupName)
	}

	status := "ACTIVE"
	if aws.ToInt32(asg.DesiredCapacity) == 0 && aws.ToInt32(asg.MinSize) == 0 {
		status = "STOPPED"
	}

	return NodeGroup{
		Name:          name,
		ASGName:       aws.ToString(asg.AutoScalingGroupName),
		ASGArn:        aws.ToString(asg.AutoScalingGroupARN),
		Status:        status,
		DesiredSize:   aws.ToInt32(asg.DesiredCapacity),
		MinSize:       aws.ToInt32(asg.MinSize),
		MaxSize:       aws.ToInt32(asg.MaxSize),
		InstanceTypes: extractInstanceTypes(asg),
		CapacityType:  extractCapacityType(asg),
		Tags:          tags,
	}
}

func extractInstanceTypes(asg asgtypes.AutoScalingGroup) []string {
	var types []string
	if asg.MixedInstancesPolicy != nil && asg.MixedInstancesPolicy.LaunchTemplate != nil {
		for _, o := range asg.MixedInstancesPolicy.LaunchTemplate.Overrides {
			if o.InstanceType != nil {
				types = append(types, *o.InstanceType)
			}
		}
	}
	if len(types) > 0 {
		return types
	}

	switch {
	case asg.LaunchTemplate != nil:
		return []string{"(from-launch-template)"}
	case asg.LaunchConfigurationName != nil:
		return []string{"(from-launch-config)"}
	default:
		return nil
	}
}

func extractCapacityType(asg asgtypes.AutoScalingGroup) string {
	if asg.MixedInstancesPolicy == nil || asg.MixedInstancesPolicy.InstancesDistribution == nil {
		return "ON_DEMAND"
	}
	pct := asg.MixedInstancesPolicy.InstancesDistribution.OnDemandPercentageAboveBaseCapacity
	if pct == nil {
		return "ON_DEMAND"
	}
	switch {
	case *pct == 0:
		return "SPOT"
	case *pct < 100:
		return "MIXED"
	default:
		return "ON_DEMAND"
	}
}
