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

// Package baseline records the original ASG sizes captured before a
// stop operation, so a later start can restore them exactly. A create
// is conditional on absence: repeated stops on an already-stopped fleet
// can never clobber the true originals.
package baseline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

// Baseline is the captured sizing for a single nodegroup.
type Baseline struct {
	ClusterID     string
	NodeGroupName string
	Desired       int32
	Min           int32
	Max           int32
	SavedAt       string
	Version       int
}

// Store persists baselines in the configured document store table.
type Store struct {
	db    store.Store
	table string
	clock clock.Clock
	log   *zap.Logger
}

// New constructs a baseline Store.
func New(db store.Store, table string, c clock.Clock, log *zap.Logger) *Store {
	return &Store{db: db, table: table, clock: c, log: log}
}

func key(clusterID, nodegroupName string) store.Key {
	return store.Key{PK: clusterID, SK: nodegroupName}
}

// Save writes the baseline only if one does not already exist for this
// (cluster, nodegroup). Returns false, without error, when a baseline
// was already present — the caller treats this as ConflictIgnored, not
// a failure.
func (s *Store) Save(ctx context.Context, clusterID, nodegroupName string, desired, min, max int32) (bool, error) {
	item := store.Item{
		"cluster_id":     clusterID,
		"nodegroup_name": nodegroupName,
		"desired_size":   int64(desired),
		"min_size":       int64(min),
		"max_size":       int64(max),
		"saved_at":       s.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		"version":        int64(1),
	}

	created, err := s.db.PutIfAbsent(ctx, s.table, key(clusterID, nodegroupName), item)
	if err != nil {
		return false, fmt.Errorf("save baseline: %w", err)
	}
	if created {
		s.log.Info("baseline saved", zap.String("cluster_id", clusterID), zap.String("nodegroup_name", nodegroupName))
	} else {
		s.log.Info("baseline already exists, skipping overwrite", zap.String("cluster_id", clusterID), zap.String("nodegroup_name", nodegroupName))
	}
	return created, nil
}

// Get reads the baseline for a nodegroup, if any.
func (s *Store) Get(ctx context.Context, clusterID, nodegroupName string) (*Baseline, error) {
	item, found, err := s.db.Get(ctx, s.table, key(clusterID, nodegroupName))
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	if !found {
		return nil, nil
	}
	return fromItem(item), nil
}

// Delete unconditionally removes a baseline. Called only after a
// successful start.
func (s *Store) Delete(ctx context.Context, clusterID, nodegroupName string) error {
	if err := s.db.Delete(ctx, s.table, key(clusterID, nodegroupName)); err != nil {
		return fmt.Errorf("delete baseline: %w", err)
	}
	s.log.Info("baseline deleted", zap.String("cluster_id", clusterID), zap.String("nodegroup_name", nodegroupName))
	return nil
}

// List returns every baseline recorded for a cluster.
func (s *Store) List(ctx context.Context, clusterID string) ([]*Baseline, error) {
	items, err := s.db.Query(ctx, s.table, clusterID, store.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	out := make([]*Baseline, 0, len(items))
	for _, item := range items {
		out = append(out, fromItem(item))
	}
	return out, nil
}

func fromItem(item store.Item) *Baseline {
	return &Baseline{
		ClusterID:     asString(item["cluster_id"]),
		NodeGroupName: asString(item["nodegroup_name"]),
		Desired:       asInt32(item["desired_size"]),
		Min:           asInt32(item["min_size"]),
		Max:           asInt32(item["max_size"]),
		SavedAt:       asString(item["saved_at"]),
		Version:       int(asInt32(item["version"])),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt32(v any) int32 {
	switch n := v.(type) {
	case int64:
		return int32(n)
	case int:
		return int32(n)
	case float64:
		return int32(n)
	default:
		return 0
	}
}
