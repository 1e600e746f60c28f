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

// Package discovery enumerates EKS clusters and their backing Auto
// Scaling Groups across every target account and region, applying the
// mandatory production guard and an optional caller-supplied label
// filter.
package discovery

// NodeGroup is one ASG-backed worker group discovered under a cluster.
type NodeGroup struct {
	Name          string
	ASGName       string
	ASGArn        string
	Status        string // ACTIVE | STOPPED
	DesiredSize   int32
	MinSize       int32
	MaxSize       int32
	InstanceTypes []string
	CapacityType  string // SPOT | MIXED | ON_DEMAND
	Tags          map[string]string
}

// Cluster is one discovered EKS cluster and its eligible node groups.
type Cluster struct {
	AccountID         string
	Region            string
	ClusterName       string
	ClusterARN        string
	ClusterStatus     string
	KubernetesVersion string
	Tags              map[string]string
	NodeGroups        []NodeGroup
}

// ClusterID is the stable "{account}:{region}:{name}" identifier used
// throughout the operation state machine.
func (c Cluster) ClusterID() string {
	return c.AccountID + ":" + c.Region + ":" + c.ClusterName
}

// NodeGroupID is the stable "{cluster_id}:{nodegroup_name}" identifier.
func (c Cluster) NodeGroupID(ng NodeGroup) string {
	return c.ClusterID() + ":" + ng.Name
}

// LabelFilter requires every key=value pair to match exactly against a
// cluster's tags.
type LabelFilter map[string]string

func (f LabelFilter) matches(tags map[string]string) bool {
	for k, v := range f {
		if tags[k] != v {
			return false
		}
	}
	return true
}
