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

// Package fanout publishes one work unit per nodegroup to the pub/sub
// topic that feeds the worker queue, carrying the identifiers and
// captured originals a worker needs to act without re-discovering them.
package fanout

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
)

// Message is the wire payload published per nodegroup, consumed by the
// worker on the other side of the queue.
type Message struct {
	OperationID     string `json:"operation_id"`
	Action          string `json:"action"`
	AccountID       string `json:"account_id"`
	Region          string `json:"region"`
	ClusterName     string `json:"cluster_name"`
	ClusterID       string `json:"cluster_id"`
	NodeGroupName   string `json:"nodegroup_name"`
	NodeGroupID     string `json:"nodegroup_id"`
	ASGName         string `json:"asg_name"`
	OriginalDesired int32  `json:"original_desired"`
	OriginalMin     int32  `json:"original_min"`
	OriginalMax     int32  `json:"original_max"`
	InitiatedBy     string `json:"initiated_by"`
	NodeType        string `json:"node_type"`
	TargetDesired   *int32 `json:"target_desired,omitempty"`
	TargetMin       *int32 `json:"target_min,omitempty"`
	TargetMax       *int32 `json:"target_max,omitempty"`
}

// Result reports how many messages were actually published.
type Result struct {
	ClustersCount   int
	NodeGroupsCount int
}

// Router publishes fan-out messages to the configured topic.
type Router struct {
	sns      awsapi.SNSAPI
	topicARN string
	log      *zap.Logger
}

// New constructs a Router bound to one topic.
func New(snsClient awsapi.SNSAPI, topicARN string, log *zap.Logger) *Router {
	return &Router{sns: snsClient, topicARN: topicARN, log: log}
}

// ScaleTargets carries the optional target sizes for a "scale" fan-out;
// fields left nil are passed through untouched, never defaulted.
type ScaleTargets struct {
	Desired *int32
	Min     *int32
	Max     *int32
}

// Publish fans out one message per nodegroup across the given clusters.
// Publication is best-effort per message: one failure is logged and
// counted but does not abort the remaining messages. Errors for
// individual messages are aggregated and returned alongside the
// successful count.
func (r *Router) Publish(ctx context.Context, operationID, action, initiatedBy string, clusters []operation.ClusterInput, targets map[string]ScaleTargets) (Result, error) {
	var result Result
	var errs error

	for _, c := range clusters {
		clusterID := c.ClusterID()
		result.ClustersCount++

		for _, ng := range c.NodeGroups {
			msg := Message{
				OperationID:     operationID,
				Action:          action,
				AccountID:       c.AccountID,
				Region:          c.Region,
				ClusterName:     c.ClusterName,
				ClusterID:       clusterID,
				NodeGroupName:   ng.Name,
				NodeGroupID:     operation.NodeGroupID(clusterID, ng.Name),
				ASGName:         ng.ASGName,
				OriginalDesired: ng.OriginalDesired,
				OriginalMin:     ng.OriginalMin,
				OriginalMax:     ng.OriginalMax,
				InitiatedBy:     initiatedBy,
				NodeType:        "asg",
			}
			if t, ok := targets[msg.NodeGroupID]; ok {
				msg.TargetDesired = t.Desired
				msg.TargetMin = t.Min
				msg.TargetMax = t.Max
			}

			if err := r.publishOne(ctx, msg); err != nil {
				r.log.Error("failed to publish fan-out message",
					zap.String("operation_id", operationID),
					zap.String("nodegroup_id", msg.NodeGroupID),
					zap.Error(err),
				)
				errs = multierr.Append(errs, err)
				continue
			}
			result.NodeGroupsCount++
		}
	}

	r.log.Info("fan-out complete",
		zap.String("operation_id", operationID),
		zap.String("action", action),
		zap.Int("clusters_count", result.ClustersCount),
		zap.Int("nodegroups_count", result.NodeGroupsCount),
	)
	return result, errs
}

func (r *Router) publishOne(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = r.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: &r.topicARN,
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"action":     {DataType: aws.String("String"), StringValue: aws.String(msg.Action)},
			"account_id": {DataType: aws.String("String"), StringValue: aws.String(msg.AccountID)},
		},
	})
	return err
}
