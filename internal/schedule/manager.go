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

package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

const executionTTL = 90 * 24 * time.Hour

// Manager is the CRUD surface for schedule configuration, enforcing the
// single-active-schedule-per-ASG invariant via a companion mapping row.
type Manager struct {
	db    store.Store
	table string
	clock clock.Clock
	log   *zap.Logger
}

// New constructs a Manager backed by the given document store table.
func New(db store.Store, table string, c clock.Clock, log *zap.Logger) *Manager {
	return &Manager{db: db, table: table, clock: c, log: log}
}

func configKey(scheduleID string) store.Key {
	return store.Key{PK: "SCHEDULE#" + scheduleID, SK: "CONFIG"}
}

func mappingKey(nodegroupFQN string) store.Key {
	return store.Key{PK: "ASG_MAP#" + nodegroupFQN, SK: "MAPPING"}
}

func executionKey(scheduleID, executedAt string) store.Key {
	return store.Key{PK: "SCHEDULE#" + scheduleID, SK: "EXEC#" + executedAt}
}

// Create validates the cron expression and target, enforces the 1:1
// ASG mapping and writes both the schedule and its mapping row.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	if !ValidateCron(in.Recurrence) {
		return nil, &ValidationError{Field: "recurrence", Message: fmt.Sprintf("invalid cron expression %q", in.Recurrence)}
	}
	if in.Target.AccountID == "" || in.Target.Region == "" || in.Target.ClusterName == "" || in.Target.NodeGroupName == "" {
		return nil, &ValidationError{Field: "target", Message: "account_id, region, cluster_name and nodegroup_name are all required"}
	}
	tz := in.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, &ValidationError{Field: "time_zone", Message: fmt.Sprintf("invalid IANA zone %q", tz)}
	}

	fqn := in.Target.NodeGroupFQN()
	if existingID, ok, err := m.activeMapping(ctx, fqn); err != nil {
		return nil, err
	} else if ok {
		return nil, &AlreadyExistsError{NodeGroupFQN: fqn, ExistingScheduleID: existingID}
	}

	scheduleID := uuid.NewString()
	now := m.clock.Now().UTC().Format(time.RFC3339)

	sched := &Schedule{
		ScheduleID:      scheduleID,
		Name:            in.Name,
		Recurrence:      in.Recurrence,
		TimeZone:        tz,
		Target:          in.Target,
		DesiredCapacity: in.DesiredCapacity,
		MinSize:         in.MinSize,
		MaxSize:         in.MaxSize,
		Enabled:         true,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.db.Put(ctx, m.table, configKey(scheduleID), toItem(sched)); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	if err := m.db.Put(ctx, m.table, mappingKey(fqn), store.Item{
		"schedule_id": scheduleID,
		"updated_at":  now,
	}); err != nil {
		return nil, fmt.Errorf("create schedule mapping: %w", err)
	}

	m.log.Info("schedule created", zap.String("schedule_id", scheduleID), zap.String("nodegroup_fqn", fqn))
	return sched, nil
}

// activeMapping returns the schedule_id bound to fqn, and whether that
// schedule both exists and is still enabled.
func (m *Manager) activeMapping(ctx context.Context, fqn string) (string, bool, error) {
	item, found, err := m.db.Get(ctx, m.table, mappingKey(fqn))
	if err != nil {
		return "", false, fmt.Errorf("lookup schedule mapping: %w", err)
	}
	if !found {
		return "", false, nil
	}
	existingID := asString(item["schedule_id"])

	existing, err := m.Get(ctx, existingID)
	if err != nil {
		return "", false, err
	}
	if existing == nil || !existing.Enabled {
		return existingID, false, nil
	}
	return existingID, true, nil
}

// Get reads a schedule by ID.
func (m *Manager) Get(ctx context.Context, scheduleID string) (*Schedule, error) {
	item, found, err := m.db.Get(ctx, m.table, configKey(scheduleID))
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if !found {
		return nil, nil
	}
	return fromItem(item), nil
}

// List returns every schedule, optionally restricted to enabled ones
// and/or filtered down to a cluster/nodegroup target.
func (m *Manager) List(ctx context.Context, enabledOnly bool, clusterName, nodegroupName string) ([]*Schedule, error) {
	var items []store.Item
	var err error
	if enabledOnly {
		items, err = m.db.QueryIndex(ctx, m.table, "enabled-index", "enabled", "true")
	} else {
		// Listing every schedule regardless of enabled state has no
		// natural partition key (each schedule owns its own PK), so
		// every CONFIG row carries a constant record_type attribute
		// indexed by a second, sparse GSI — the single-table
		// alternative to an unbounded table scan.
		items, err = m.db.QueryIndex(ctx, m.table, "all-schedules-index", "record_type", "schedule")
	}
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	out := make([]*Schedule, 0, len(items))
	for _, item := range items {
		s := fromItem(item)
		if clusterName != "" && s.Target.ClusterName != clusterName {
			continue
		}
		if nodegroupName != "" && s.Target.NodeGroupName != nodegroupName {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Update applies only the non-nil fields of in.
func (m *Manager) Update(ctx context.Context, scheduleID string, in UpdateInput) (*Schedule, error) {
	if in.Recurrence != nil && !ValidateCron(*in.Recurrence) {
		return nil, &ValidationError{Field: "recurrence", Message: fmt.Sprintf("invalid cron expression %q", *in.Recurrence)}
	}

	sets := map[string]any{"updated_at": m.clock.Now().UTC().Format(time.RFC3339)}
	if in.Name != nil {
		sets["name"] = *in.Name
	}
	if in.Recurrence != nil {
		sets["recurrence"] = *in.Recurrence
	}
	if in.TimeZone != nil {
		sets["time_zone"] = *in.TimeZone
	}
	if in.DesiredCapacity != nil {
		sets["desired_capacity"] = int64(*in.DesiredCapacity)
	}
	if in.MinSize != nil {
		sets["min_size"] = int64(*in.MinSize)
	}
	if in.MaxSize != nil {
		sets["max_size"] = int64(*in.MaxSize)
	}
	if in.Enabled != nil {
		sets["enabled"] = enabledString(*in.Enabled)
	}
	if in.PausedUntil != nil {
		sets["paused_until"] = *in.PausedUntil
	}

	if err := m.db.Update(ctx, m.table, configKey(scheduleID), sets, nil); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return m.Get(ctx, scheduleID)
}

// Delete soft-deletes a schedule by disabling it; the config and
// execution history rows are left in place.
func (m *Manager) Delete(ctx context.Context, scheduleID string) error {
	disabled := false
	_, err := m.Update(ctx, scheduleID, UpdateInput{Enabled: &disabled})
	return err
}

// Pause disables a schedule and records the given time as paused_until.
// The poller lists only enabled schedules, so a paused schedule is not
// resumed automatically when that time passes; Resume re-enables it.
func (m *Manager) Pause(ctx context.Context, scheduleID string, until time.Time) (*Schedule, error) {
	disabled := false
	pausedUntil := until.UTC().Format(time.RFC3339)
	return m.Update(ctx, scheduleID, UpdateInput{Enabled: &disabled, PausedUntil: &pausedUntil})
}

// Resume re-enables a paused schedule and clears paused_until.
func (m *Manager) Resume(ctx context.Context, scheduleID string) (*Schedule, error) {
	enabled := true
	empty := ""
	return m.Update(ctx, scheduleID, UpdateInput{Enabled: &enabled, PausedUntil: &empty})
}

// RecordExecution appends an EXEC row, TTL'd 90 days out.
func (m *Manager) RecordExecution(ctx context.Context, scheduleID, action, operationID string, clustersQueued int) error {
	now := m.clock.Now().UTC()
	item := store.Item{
		"schedule_id":     scheduleID,
		"action":          action,
		"operation_id":    operationID,
		"clusters_count":  int64(clustersQueued),
		"executed_at":     now.Format(time.RFC3339),
		"ttl":             now.Add(executionTTL).Unix(),
	}
	if err := m.db.Put(ctx, m.table, executionKey(scheduleID, now.Format(time.RFC3339)), item); err != nil {
		return fmt.Errorf("record schedule execution: %w", err)
	}
	return nil
}

// History returns the most recent executions for a schedule, newest
// first.
func (m *Manager) History(ctx context.Context, scheduleID string, limit int) ([]*Execution, error) {
	items, err := m.db.Query(ctx, m.table, "SCHEDULE#"+scheduleID, store.QueryOptions{
		SKPrefix:         "EXEC#",
		ScanIndexForward: false,
		Limit:            int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list schedule history: %w", err)
	}
	out := make([]*Execution, 0, len(items))
	for _, item := range items {
		out = append(out, &Execution{
			ScheduleID:     asString(item["schedule_id"]),
			Action:         asString(item["action"]),
			OperationID:    asString(item["operation_id"]),
			ClustersQueued: int(asInt64(item["clusters_count"])),
			ExecutedAt:     asString(item["executed_at"]),
		})
	}
	return out, nil
}

func enabledString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func toItem(s *Schedule) store.Item {
	return store.Item{
		"record_type":      "schedule",
		"schedule_id":      s.ScheduleID,
		"name":             s.Name,
		"recurrence":       s.Recurrence,
		"time_zone":        s.TimeZone,
		"account_id":       s.Target.AccountID,
		"region":           s.Target.Region,
		"cluster_name":     s.Target.ClusterName,
		"nodegroup_name":   s.Target.NodeGroupName,
		"desired_capacity": int64(s.DesiredCapacity),
		"min_size":         int64(s.MinSize),
		"max_size":         int64(s.MaxSize),
		"enabled":          enabledString(s.Enabled),
		"paused_until":     s.PausedUntil,
		"created_by":       s.CreatedBy,
		"created_at":       s.CreatedAt,
		"updated_at":       s.UpdatedAt,
	}
}

func fromItem(item store.Item) *Schedule {
	return &Schedule{
		ScheduleID: asString(item["schedule_id"]),
		Name:       asString(item["name"]),
		Recurrence: asString(item["recurrence"]),
		TimeZone:   asString(item["time_zone"]),
		Target: Target{
			AccountID:     asString(item["account_id"]),
			Region:        asString(item["region"]),
			ClusterName:   asString(item["cluster_name"]),
			NodeGroupName: asString(item["nodegroup_name"]),
		},
		DesiredCapacity: int32(asInt64(item["desired_capacity"])),
		MinSize:         int32(asInt64(item["min_size"])),
		MaxSize:         int32(asInt64(item["max_size"])),
		Enabled:         asString(item["enabled"]) == "true",
		PausedUntil:     asString(item["paused_until"]),
		CreatedBy:       asString(item["created_by"]),
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
