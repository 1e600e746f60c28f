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

// Package schedule manages cron-triggered scale operations: CRUD for
// schedule configuration with a strict one-schedule-per-ASG mapping, and
// the once-a-minute poller that evaluates due schedules and triggers
// them exactly once per minute under a distributed lock.
package schedule

import "fmt"

// Target identifies the single ASG-backed nodegroup a schedule governs.
type Target struct {
	AccountID     string
	Region        string
	ClusterName   string
	NodeGroupName string
}

// NodeGroupFQN is the fully-qualified identifier used as the schedule's
// 1:1 ASG mapping key.
func (t Target) NodeGroupFQN() string {
	return fmt.Sprintf("%s:%s:%s:%s", t.AccountID, t.Region, t.ClusterName, t.NodeGroupName)
}

// Schedule is a cron-triggered scale target.
type Schedule struct {
	ScheduleID      string
	Name            string
	Recurrence      string // 5-field cron expression
	TimeZone        string // IANA zone name
	Target          Target
	DesiredCapacity int32
	MinSize         int32
	MaxSize         int32
	Enabled         bool
	PausedUntil     string // RFC3339, empty when not paused
	CreatedBy       string
	CreatedAt       string
	UpdatedAt       string
}

// Execution is one append-only record of a schedule firing.
type Execution struct {
	ScheduleID     string
	Action         string
	OperationID    string
	ClustersQueued int
	ExecutedAt     string
}

// CreateInput is the caller-supplied payload for a new schedule.
type CreateInput struct {
	Name            string
	Recurrence      string
	TimeZone        string
	Target          Target
	DesiredCapacity int32
	MinSize         int32
	MaxSize         int32
	CreatedBy       string
}

// UpdateInput carries only the fields the caller wants to change; nil
// fields are left untouched.
type UpdateInput struct {
	Name            *string
	Recurrence      *string
	TimeZone        *string
	DesiredCapacity *int32
	MinSize         *int32
	MaxSize         *int32
	Enabled         *bool
	PausedUntil     *string
}

// AlreadyExistsError reports that a target ASG already has an active
// schedule, enforcing the 1:1 schedule-to-ASG invariant.
type AlreadyExistsError struct {
	NodeGroupFQN       string
	ExistingScheduleID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("asg %s already has an active schedule: %s", e.NodeGroupFQN, e.ExistingScheduleID)
}

// ValidationError reports a malformed create/update request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
