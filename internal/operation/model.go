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

// Package operation is the fan-out/fan-in state machine: it seeds
// META/CLUSTER/NG rows for a new operation, folds worker-reported NG
// updates up into derived CLUSTER and META statuses, and grants
// single-winner idempotency locks for time-based triggers.
package operation

import "fmt"

// Status values for META, CLUSTER and NG rows.
const (
	StatusPending        = "PENDING"
	StatusInProgress     = "IN_PROGRESS"
	StatusCompleted      = "COMPLETED"
	StatusFailed         = "FAILED"
	StatusPartialFailure = "PARTIAL_FAILURE"
	StatusUnknown        = "UNKNOWN"
)

// Action values an operation can carry out.
const (
	ActionStop  = "stop"
	ActionStart = "start"
	ActionScale = "scale"
)

// NodeGroupInput describes one nodegroup to seed into a new operation,
// carrying the sizes discovery observed immediately before the
// operation was created.
type NodeGroupInput struct {
	Name            string
	ASGName         string
	OriginalDesired int32
	OriginalMin     int32
	OriginalMax     int32
}

// ClusterInput describes one cluster to seed into a new operation.
type ClusterInput struct {
	AccountID   string
	Region      string
	ClusterName string
	NodeGroups  []NodeGroupInput
}

// ClusterID matches the "{account}:{region}:{name}" identifier used
// throughout the system.
func (c ClusterInput) ClusterID() string {
	return fmt.Sprintf("%s:%s:%s", c.AccountID, c.Region, c.ClusterName)
}

// NodeGroupID matches the "{cluster_id}:{nodegroup_name}" identifier.
func NodeGroupID(clusterID, nodegroupName string) string {
	return clusterID + ":" + nodegroupName
}

// Meta is the aggregate operation row.
type Meta struct {
	OperationID      string
	Action           string
	Status           string
	InitiatedBy      string
	ScheduleID       string
	TotalClusters    int
	TotalNodeGroups  int
	CreatedAt        string
	UpdatedAt        string
}

// ClusterRow is the per-cluster row under an operation.
type ClusterRow struct {
	OperationID     string
	ClusterID       string
	AccountID       string
	Region          string
	ClusterName     string
	Status          string
	TotalNodeGroups int
	CreatedAt       string
	UpdatedAt       string
}

// NodeGroupRow is the per-nodegroup row under an operation — the only
// row a worker ever writes to directly.
type NodeGroupRow struct {
	OperationID     string
	NodeGroupID     string
	ClusterID       string
	AccountID       string
	Region          string
	ClusterName     string
	NodeGroupName   string
	Action          string
	Status          string
	OriginalDesired int32
	OriginalMin     int32
	OriginalMax     int32
	CurrentDesired  int32
	RetryCount      int
	ErrorMessage    string
	CreatedAt       string
	UpdatedAt       string
}

// Derive folds a set of child statuses into a single aggregate status,
// per the exact rule set:
//   - empty set -> UNKNOWN
//   - {COMPLETED} -> COMPLETED
//   - {FAILED} -> FAILED
//   - contains PENDING or IN_PROGRESS -> IN_PROGRESS
//   - contains both COMPLETED and FAILED (and nothing else) -> PARTIAL_FAILURE
//   - contains PARTIAL_FAILURE (a child aggregate) and nothing pending or
//     in progress -> PARTIAL_FAILURE
//   - otherwise -> IN_PROGRESS
func Derive(statuses []string) string {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}

	if len(set) == 0 {
		return StatusUnknown
	}
	if len(set) == 1 {
		if _, ok := set[StatusCompleted]; ok {
			return StatusCompleted
		}
		if _, ok := set[StatusFailed]; ok {
			return StatusFailed
		}
	}

	_, hasPending := set[StatusPending]
	_, hasInProgress := set[StatusInProgress]
	if hasPending || hasInProgress {
		return StatusInProgress
	}

	_, hasCompleted := set[StatusCompleted]
	_, hasFailed := set[StatusFailed]
	_, hasPartial := set[StatusPartialFailure]
	if (hasCompleted && hasFailed) || hasPartial {
		return StatusPartialFailure
	}

	return StatusInProgress
}
