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

// Package worker consumes fan-out messages from the queue and drives
// the capacity controller, baseline store and operation state machine
// to carry out each nodegroup's stop/start/scale action.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/baseline"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/capacity"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/discovery"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/fanout"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
)

// Discoverer is the subset of the discovery pipeline the worker needs
// to re-resolve a target cluster before acting, since the ASG
// association captured at fan-out time may have gone stale.
type Discoverer interface {
	Discover(ctx context.Context, filter discovery.LabelFilter) []discovery.Cluster
}

// RawMessage is an incoming queue record, possibly still wrapped in the
// pub/sub envelope form {"Message": "<json>"}.
type RawMessage struct {
	MessageID string
	Body      []byte
}

// Worker processes a batch of fan-out messages.
type Worker struct {
	discoverer Discoverer
	controller *capacity.Controller
	baselines  *baseline.Store
	state      *operation.State
	log        *zap.Logger
}

// New constructs a Worker.
func New(discoverer Discoverer, controller *capacity.Controller, baselines *baseline.Store, state *operation.State, log *zap.Logger) *Worker {
	return &Worker{discoverer: discoverer, controller: controller, baselines: baselines, state: state, log: log}
}

// ProcessBatch processes every message in the batch and returns the IDs
// of messages that failed, so the queue redelivers only those.
func (w *Worker) ProcessBatch(ctx context.Context, records []RawMessage) []string {
	var failures []string
	for _, r := range records {
		if err := w.processRecord(ctx, r); err != nil {
			w.log.Error("failed to process record", zap.String("message_id", r.MessageID), zap.Error(err))
			failures = append(failures, r.MessageID)
		}
	}
	return failures
}

func (w *Worker) processRecord(ctx context.Context, r RawMessage) error {
	msg, err := unwrap(r.Body)
	if err != nil {
		w.log.Error("failed to parse message body", zap.String("message_id", r.MessageID), zap.Error(err))
		return err
	}
	return w.processMessage(ctx, msg)
}

// unwrap accepts both a direct message body and the fan-out envelope
// form {"Message": "<json>"}.
func unwrap(body []byte) (fanout.Message, error) {
	var envelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		var msg fanout.Message
		if err := json.Unmarshal([]byte(envelope.Message), &msg); err != nil {
			return fanout.Message{}, fmt.Errorf("unmarshal envelope message: %w", err)
		}
		return msg, nil
	}

	var msg fanout.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fanout.Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, nil
}

func (w *Worker) processMessage(ctx context.Context, msg fanout.Message) error {
	if msg.OperationID == "" || msg.Action == "" || msg.ClusterName == "" || msg.AccountID == "" || msg.Region == "" {
		w.log.Error("missing required fields in message", zap.Any("message", msg))
		return nil
	}

	clusterID := msg.ClusterID
	if clusterID == "" {
		clusterID = msg.AccountID + ":" + msg.Region + ":" + msg.ClusterName
	}

	w.log.Info("processing operation",
		zap.String("operation_id", msg.OperationID),
		zap.String("action", msg.Action),
		zap.String("cluster_id", clusterID),
	)

	_, ng, found := w.resolveTarget(ctx, msg)
	if !found {
		w.log.Error("cluster not found during processing",
			zap.String("cluster_name", msg.ClusterName),
			zap.String("account_id", msg.AccountID),
		)
		return nil
	}

	ngID := msg.NodeGroupID
	if ngID == "" {
		ngID = clusterID + ":" + msg.NodeGroupName
	}

	asgName := msg.ASGName
	if asgName == "" {
		asgName = ng.ASGName
	}

	err := w.dispatch(ctx, msg, ng, clusterID, asgName)
	if err != nil {
		w.log.Error("failed to execute action on nodegroup", zap.String("nodegroup", msg.NodeGroupName), zap.Error(err))
		if uerr := w.state.UpdateNodeGroupStatus(ctx, msg.OperationID, ngID, operation.StatusFailed, err.Error(), nil); uerr != nil {
			w.log.Error("failed to mark nodegroup failed", zap.String("nodegroup", msg.NodeGroupName), zap.Error(uerr))
		}
		return err
	}
	return nil
}

func (w *Worker) resolveTarget(ctx context.Context, msg fanout.Message) (discovery.Cluster, discovery.NodeGroup, bool) {
	clusters := w.discoverer.Discover(ctx, nil)
	for _, c := range clusters {
		if c.ClusterName != msg.ClusterName || c.Region != msg.Region || c.AccountID != msg.AccountID {
			continue
		}
		for _, ng := range c.NodeGroups {
			if ng.Name == msg.NodeGroupName {
				return c, ng, true
			}
		}
		return discovery.Cluster{}, discovery.NodeGroup{}, false
	}
	return discovery.Cluster{}, discovery.NodeGroup{}, false
}

func (w *Worker) dispatch(ctx context.Context, msg fanout.Message, ng discovery.NodeGroup, clusterID, asgName string) error {
	ngID := clusterID + ":" + msg.NodeGroupName

	switch msg.Action {
	case operation.ActionStop:
		if _, err := w.baselines.Save(ctx, clusterID, msg.NodeGroupName, ng.DesiredSize, ng.MinSize, ng.MaxSize); err != nil {
			return err
		}
		if _, err := w.controller.StopNodeGroup(ctx, msg.AccountID, msg.Region, msg.ClusterName, msg.NodeGroupName, asgName); err != nil {
			return err
		}
		zero := int32(0)
		return w.state.UpdateNodeGroupStatus(ctx, msg.OperationID, ngID, operation.StatusCompleted, "", &zero)

	case operation.ActionStart:
		saved, err := w.baselines.Get(ctx, clusterID, msg.NodeGroupName)
		if err != nil {
			return err
		}
		var target capacity.Sizes
		if saved == nil {
			w.log.Warn("no baseline found, using current min_size", zap.String("nodegroup_id", ngID))
			target = capacity.Sizes{Desired: ng.MinSize, Min: ng.MinSize, Max: ng.MaxSize}
		} else {
			target = capacity.Sizes{Desired: saved.Desired, Min: saved.Min, Max: saved.Max}
		}

		if err := w.controller.StartNodeGroup(ctx, msg.AccountID, msg.Region, msg.ClusterName, msg.NodeGroupName, asgName, target); err != nil {
			return err
		}
		if err := w.state.UpdateNodeGroupStatus(ctx, msg.OperationID, ngID, operation.StatusCompleted, "", &target.Desired); err != nil {
			return err
		}
		return w.baselines.Delete(ctx, clusterID, msg.NodeGroupName)

	case operation.ActionScale:
		if err := w.controller.ScaleNodeGroup(ctx, msg.AccountID, msg.Region, msg.ClusterName, msg.NodeGroupName, asgName, msg.TargetDesired, msg.TargetMin, msg.TargetMax); err != nil {
			return err
		}
		return w.state.UpdateNodeGroupStatus(ctx, msg.OperationID, ngID, operation.StatusCompleted, "", msg.TargetDesired)

	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
}
