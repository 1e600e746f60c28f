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
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/discovery"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/fanout"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
)

// Locker grants the single-winner per-minute idempotency lock a
// triggered schedule must hold before fanning out.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttlSeconds int) (bool, error)
}

// Discoverer resolves the live cluster/nodegroup a schedule targets, the
// same seam the worker uses to avoid acting on stale ASG associations.
type Discoverer interface {
	Discover(ctx context.Context, filter discovery.LabelFilter) []discovery.Cluster
}

// Summary reports one poll pass's outcome, matching the shape the
// original Lambda handler returned to its caller.
type Summary struct {
	SchedulesEvaluated int
	Triggered          int
	Skipped            int
	Errors             int
}

// Poller evaluates every enabled schedule once a minute and fires the
// ones whose cron expression matches the current minute, fencing
// concurrent or duplicate invocations with a per-schedule-per-minute
// lock.
type Poller struct {
	manager    *Manager
	locker     Locker
	discoverer Discoverer
	state      *operation.State
	router     *fanout.Router
	clock      clock.Clock
	log        *zap.Logger
}

// NewPoller constructs a Poller.
func NewPoller(manager *Manager, locker Locker, discoverer Discoverer, state *operation.State, router *fanout.Router, c clock.Clock, log *zap.Logger) *Poller {
	return &Poller{manager: manager, locker: locker, discoverer: discoverer, state: state, router: router, clock: c, log: log}
}

const lockTTLSeconds = 120

// Poll evaluates all enabled schedules against the current minute.
func (p *Poller) Poll(ctx context.Context) Summary {
	now := p.clock.Now().UTC()
	minuteKey := now.Format("2006-01-02T15:04")

	p.log.Info("schedule poll started", zap.String("minute_key", minuteKey))

	schedules, err := p.manager.List(ctx, true, "", "")
	if err != nil {
		p.log.Error("failed to list enabled schedules", zap.Error(err))
		return Summary{}
	}

	summary := Summary{SchedulesEvaluated: len(schedules)}

	for _, sched := range schedules {
		p.evaluate(ctx, sched, now, minuteKey, &summary)
	}

	p.log.Info("schedule poll complete",
		zap.Int("schedules_evaluated", summary.SchedulesEvaluated),
		zap.Int("triggered", summary.Triggered),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return summary
}

func (p *Poller) evaluate(ctx context.Context, sched *Schedule, now time.Time, minuteKey string, summary *Summary) {
	if sched.PausedUntil != "" {
		pauseUntil, err := time.Parse(time.RFC3339, sched.PausedUntil)
		if err == nil && now.Before(pauseUntil) {
			p.log.Info("schedule paused, skipping", zap.String("schedule_id", sched.ScheduleID), zap.String("paused_until", sched.PausedUntil))
			summary.Skipped++
			return
		}
		if _, err := p.manager.Resume(ctx, sched.ScheduleID); err != nil {
			p.log.Error("failed to resume schedule past its pause window", zap.String("schedule_id", sched.ScheduleID), zap.Error(err))
		}
	}

	if !IsTriggered(sched.Recurrence, sched.TimeZone, now) {
		return
	}

	lockKey := fmt.Sprintf("schedule:%s:scale:%s", sched.ScheduleID, minuteKey)
	acquired, err := p.locker.AcquireLock(ctx, lockKey, lockTTLSeconds)
	if err != nil {
		p.log.Error("failed to acquire schedule lock", zap.String("schedule_id", sched.ScheduleID), zap.Error(err))
		summary.Errors++
		return
	}
	if !acquired {
		p.log.Info("scale already triggered this minute", zap.String("schedule_id", sched.ScheduleID))
		return
	}

	operationID, clustersQueued, err := p.trigger(ctx, sched)
	if err != nil {
		p.log.Error("failed to trigger scale operation", zap.String("schedule_id", sched.ScheduleID), zap.Error(err))
		summary.Errors++
		return
	}

	if err := p.manager.RecordExecution(ctx, sched.ScheduleID, operation.ActionScale, operationID, clustersQueued); err != nil {
		p.log.Error("failed to record schedule execution", zap.String("schedule_id", sched.ScheduleID), zap.Error(err))
	}
	summary.Triggered++
}

// trigger resolves the schedule's target ASG, seeds an operation and
// fans out a single scale message for it.
func (p *Poller) trigger(ctx context.Context, sched *Schedule) (string, int, error) {
	ng, ok := p.resolveTarget(ctx, sched.Target)
	if !ok {
		return "", 0, fmt.Errorf("no cluster matched schedule target %s", sched.Target.NodeGroupFQN())
	}

	operationID := uuid.NewString()
	clusterInput := operation.ClusterInput{
		AccountID:   sched.Target.AccountID,
		Region:      sched.Target.Region,
		ClusterName: sched.Target.ClusterName,
		NodeGroups: []operation.NodeGroupInput{
			{
				Name:            sched.Target.NodeGroupName,
				ASGName:         ng.ASGName,
				OriginalDesired: ng.DesiredSize,
				OriginalMin:     ng.MinSize,
				OriginalMax:     ng.MaxSize,
			},
		},
	}

	if _, err := p.state.CreateOperation(ctx, operationID, operation.ActionScale, "schedule:"+sched.ScheduleID, sched.ScheduleID, []operation.ClusterInput{clusterInput}); err != nil {
		return "", 0, fmt.Errorf("create operation: %w", err)
	}

	desired, min, max := sched.DesiredCapacity, sched.MinSize, sched.MaxSize
	targets := map[string]fanout.ScaleTargets{
		clusterInput.ClusterID() + ":" + sched.Target.NodeGroupName: {Desired: &desired, Min: &min, Max: &max},
	}

	result, err := p.router.Publish(ctx, operationID, operation.ActionScale, "schedule:"+sched.ScheduleID, []operation.ClusterInput{clusterInput}, targets)
	if err != nil {
		p.log.Warn("schedule fan-out had partial failures", zap.String("schedule_id", sched.ScheduleID), zap.Error(err))
	}

	return operationID, result.ClustersCount, nil
}

func (p *Poller) resolveTarget(ctx context.Context, target Target) (discovery.NodeGroup, bool) {
	clusters := p.discoverer.Discover(ctx, nil)
	for _, c := range clusters {
		if c.AccountID != target.AccountID || c.Region != target.Region || c.ClusterName != target.ClusterName {
			continue
		}
		for _, ng := range c.NodeGroups {
			if ng.Name == target.NodeGroupName {
				return ng, true
			}
		}
	}
	return discovery.NodeGroup{}, false
}
