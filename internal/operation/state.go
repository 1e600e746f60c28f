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

package operation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

const operationTTL = 30 * 24 * time.Hour

// State tracks operations at META, CLUSTER and NG granularity.
type State struct {
	db    store.Store
	table string
	clock clock.Clock
	log   *zap.Logger
}

// New constructs a State backed by the given document store table.
func New(db store.Store, table string, c clock.Clock, log *zap.Logger) *State {
	return &State{db: db, table: table, clock: c, log: log}
}

func opPK(operationID string) string { return "OP#" + operationID }

func isoNow(c clock.Clock) string {
	return c.Now().UTC().Format(time.RFC3339)
}

// CreateOperation seeds one META row, one CLUSTER row per cluster and
// one NG row per nodegroup in a single batch write. Every row shares a
// 30-day TTL.
func (s *State) CreateOperation(ctx context.Context, operationID, action, initiatedBy, scheduleID string, clusters []ClusterInput) (Meta, error) {
	now := isoNow(s.clock)
	expiresAt := s.clock.Now().Add(operationTTL).Unix()

	totalClusters := len(clusters)
	totalNGs := 0
	for _, c := range clusters {
		totalNGs += len(c.NodeGroups)
	}

	metaItem := store.Item{
		"operation_id":      operationID,
		"action":            action,
		"status":            StatusInProgress,
		"initiated_by":      initiatedBy,
		"total_clusters":    int64(totalClusters),
		"total_nodegroups":  int64(totalNGs),
		"created_at":        now,
		"updated_at":        now,
		"expires_at":        expiresAt,
	}
	if scheduleID != "" {
		metaItem["schedule_id"] = scheduleID
	}

	items := []store.ItemWithKey{
		{Key: store.Key{PK: opPK(operationID), SK: "META"}, Item: metaItem},
	}

	for _, c := range clusters {
		clusterID := c.ClusterID()
		items = append(items, store.ItemWithKey{
			Key: store.Key{PK: opPK(operationID), SK: "CLUSTER#" + clusterID},
			Item: store.Item{
				"cluster_id":        clusterID,
				"account_id":        c.AccountID,
				"region":            c.Region,
				"cluster_name":      c.ClusterName,
				"status":            StatusPending,
				"total_nodegroups":  int64(len(c.NodeGroups)),
				"created_at":        now,
				"updated_at":        now,
				"expires_at":        expiresAt,
			},
		})

		for _, ng := range c.NodeGroups {
			ngID := NodeGroupID(clusterID, ng.Name)
			items = append(items, store.ItemWithKey{
				Key: store.Key{PK: opPK(operationID), SK: "NG#" + ngID},
				Item: store.Item{
					"nodegroup_id":     ngID,
					"cluster_id":       clusterID,
					"account_id":       c.AccountID,
					"region":           c.Region,
					"cluster_name":     c.ClusterName,
					"nodegroup_name":   ng.Name,
					"asg_name":         ng.ASGName,
					"action":           action,
					"status":           StatusPending,
					"original_desired": int64(ng.OriginalDesired),
					"original_min":     int64(ng.OriginalMin),
					"original_max":     int64(ng.OriginalMax),
					"current_desired":  int64(ng.OriginalDesired),
					"retry_count":      int64(0),
					"created_at":       now,
					"updated_at":       now,
					"expires_at":       expiresAt,
				},
			})
		}
	}

	if err := s.db.BatchPut(ctx, s.table, items); err != nil {
		return Meta{}, fmt.Errorf("create operation: %w", err)
	}

	s.log.Info("operation created",
		zap.String("operation_id", operationID),
		zap.String("action", action),
		zap.Int("clusters", totalClusters),
		zap.Int("nodegroups", totalNGs),
	)

	return Meta{
		OperationID:     operationID,
		Action:          action,
		Status:          StatusInProgress,
		InitiatedBy:     initiatedBy,
		ScheduleID:      scheduleID,
		TotalClusters:   totalClusters,
		TotalNodeGroups: totalNGs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// UpdateNodeGroupStatus patches the NG row and recomputes CLUSTER then
// META status by folding their children via Derive.
func (s *State) UpdateNodeGroupStatus(ctx context.Context, operationID, ngID, status, errorMessage string, currentDesired *int32) error {
	now := isoNow(s.clock)

	sets := store.Item{"status": status, "updated_at": now}
	if errorMessage != "" {
		sets["error_message"] = errorMessage
	}
	if currentDesired != nil {
		sets["current_desired"] = int64(*currentDesired)
	}

	var increments map[string]int64
	if status == StatusFailed {
		increments = map[string]int64{"retry_count": 1}
	}

	key := store.Key{PK: opPK(operationID), SK: "NG#" + ngID}
	if err := s.db.Update(ctx, s.table, key, sets, increments); err != nil {
		return fmt.Errorf("update nodegroup status: %w", err)
	}

	clusterID := clusterIDFromNodeGroupID(ngID)
	if err := s.recomputeClusterStatus(ctx, operationID, clusterID); err != nil {
		return err
	}
	return s.recomputeMetaStatus(ctx, operationID)
}

// clusterIDFromNodeGroupID strips the trailing ":{nodegroup_name}"
// segment from "account:region:cluster:nodegroup".
func clusterIDFromNodeGroupID(ngID string) string {
	idx := lastIndexOfColon(ngID)
	if idx < 0 {
		return ngID
	}
	return ngID[:idx]
}

func lastIndexOfColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func (s *State) recomputeClusterStatus(ctx context.Context, operationID, clusterID string) error {
	ngs, err := s.NodeGroupsForCluster(ctx, operationID, clusterID)
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(ngs))
	for _, ng := range ngs {
		statuses = append(statuses, ng.Status)
	}
	derived := Derive(statuses)

	key := store.Key{PK: opPK(operationID), SK: "CLUSTER#" + clusterID}
	return s.db.Update(ctx, s.table, key, store.Item{"status": derived, "updated_at": isoNow(s.clock)}, nil)
}

func (s *State) recomputeMetaStatus(ctx context.Context, operationID string) error {
	clusters, err := s.Clusters(ctx, operationID)
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(clusters))
	for _, c := range clusters {
		statuses = append(statuses, c.Status)
	}
	derived := Derive(statuses)

	key := store.Key{PK: opPK(operationID), SK: "META"}
	return s.db.Update(ctx, s.table, key, store.Item{"status": derived, "updated_at": isoNow(s.clock)}, nil)
}

// GetMeta reads the META row for an operation.
func (s *State) GetMeta(ctx context.Context, operationID string) (*Meta, error) {
	item, found, err := s.db.Get(ctx, s.table, store.Key{PK: opPK(operationID), SK: "META"})
	if err != nil {
		return nil, fmt.Errorf("get operation meta: %w", err)
	}
	if !found {
		return nil, nil
	}
	return metaFromItem(item), nil
}

// Clusters returns all CLUSTER rows for an operation.
func (s *State) Clusters(ctx context.Context, operationID string) ([]ClusterRow, error) {
	items, err := s.db.Query(ctx, s.table, opPK(operationID), store.QueryOptions{SKPrefix: "CLUSTER#"})
	if err != nil {
		return nil, fmt.Errorf("list operation clusters: %w", err)
	}
	out := make([]ClusterRow, 0, len(items))
	for _, item := range items {
		out = append(out, clusterRowFromItem(operationID, item))
	}
	return out, nil
}

// NodeGroupsForCluster returns all NG rows for a cluster within an
// operation.
func (s *State) NodeGroupsForCluster(ctx context.Context, operationID, clusterID string) ([]NodeGroupRow, error) {
	items, err := s.db.Query(ctx, s.table, opPK(operationID), store.QueryOptions{SKPrefix: "NG#" + clusterID + ":"})
	if err != nil {
		return nil, fmt.Errorf("list cluster nodegroups: %w", err)
	}
	out := make([]NodeGroupRow, 0, len(items))
	for _, item := range items {
		out = append(out, nodeGroupRowFromItem(operationID, item))
	}
	return out, nil
}

func metaFromItem(item store.Item) *Meta {
	return &Meta{
		OperationID:     asString(item["operation_id"]),
		Action:          asString(item["action"]),
		Status:          asString(item["status"]),
		InitiatedBy:     asString(item["initiated_by"]),
		ScheduleID:      asString(item["schedule_id"]),
		TotalClusters:   int(asInt64(item["total_clusters"])),
		TotalNodeGroups: int(asInt64(item["total_nodegroups"])),
		CreatedAt:       asString(item["created_at"]),
		UpdatedAt:       asString(item["updated_at"]),
	}
}

func clusterRowFromItem(operationID string, item store.Item) ClusterRow {
	return ClusterRow{
		OperationID:     operationID,
		ClusterID:       asString(item["cluster_id"]),
		AccountID:       asString(item["account_id"]),
		Region:          asString(item["region"]),
		ClusterName:     asString(item["cluster_name"]),
		Status:          asString(item["status"]),
		TotalNodeGroups: int(asInt64(item["total_nodegroups"])),
		CreatedAt:       asString(item["created_at"]),
		UpdatedAt:       asString(item["updated_at"]),
	}
}

func nodeGroupRowFromItem(operationID string, item store.Item) NodeGroupRow {
	return NodeGroupRow{
		OperationID:     operationID,
		NodeGroupID:     asString(item["nodegroup_id"]),
		ClusterID:       asString(item["cluster_id"]),
		AccountID:       asString(item["account_id"]),
		Region:          asString(item["region"]),
		ClusterName:     asString(item["cluster_name"]),
		NodeGroupName:   asString(item["nodegroup_name"]),
		Action:          asString(item["action"]),
		Status:          asString(item["status"]),
		OriginalDesired: int32(asInt64(item["original_desired"])),
		OriginalMin:     int32(asInt64(item["original_min"])),
		OriginalMax:     int32(asInt64(item["original_max"])),
		CurrentDesired:  int32(asInt64(item["current_desired"])),
		RetryCount:      int(asInt64(item["retry_count"])),
		ErrorMessage:    asString(item["error_message"]),
		CreatedAt:       asString(item["created_at"]),
		UpdatedAt:       asString(item["updated_at"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
