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

// Command dispatcher issues one ad hoc stop, start or scale operation
// against a set of discovered node groups, standing in for the HTTP API
// the scheduler exposes in production. It resolves the target through
// the same discovery pass the worker and poller use, seeds an
// operation record and fans it out to the queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsclients"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/config"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/credentials"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/discovery"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/fanout"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/logging"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

func main() {
	action := flag.String("action", "", "stop, start or scale")
	accountID := flag.String("account", "", "restrict to this account ID")
	region := flag.String("region", "", "restrict to this region")
	clusterName := flag.String("cluster", "", "restrict to this cluster name")
	nodegroupName := flag.String("nodegroup", "", "restrict to this nodegroup name")
	labelFlag := flag.String("label", "", "restrict to clusters tagged key=value")
	desired := flag.Int64("desired", -1, "target desired capacity, required for scale")
	minSize := flag.Int64("min", -1, "target min size, required for scale")
	maxSize := flag.Int64("max", -1, "target max size, required for scale")
	initiatedBy := flag.String("initiated-by", "dispatcher-cli", "operator identity recorded on the operation")
	flag.Parse()

	if err := run(*action, *accountID, *region, *clusterName, *nodegroupName, *labelFlag, *desired, *minSize, *maxSize, *initiatedBy); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(actionFlag, accountID, region, clusterName, nodegroupName, labelFlag string, desired, minSize, maxSize int64, initiatedBy string) error {
	action, err := parseAction(actionFlag)
	if err != nil {
		return err
	}
	if action == operation.ActionScale && (desired < 0 || minSize < 0 || maxSize < 0) {
		return fmt.Errorf("scale requires -desired, -min and -max")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	awsCfg, err := awsclients.LoadManagementConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("load management aws config: %w", err)
	}
	bundle := awsclients.NewBundle(awsCfg)

	broker := credentials.NewBroker(bundle.STS, cfg.OperatorRoleName, cfg.ExternalID, cfg.AWSRegion)
	factory := awsclients.NewFactory(broker)

	discoverer := discovery.New(factory, bundle.Organizations, cfg.ManagementAccountID, cfg.TargetAccountIDs, cfg.ParsedTargetRegions(), cfg.MaxDiscoveryWorkers, log)

	db := store.NewDynamoStore(bundle.DynamoDB)
	realClock := clock.Real{}
	state := operation.New(db, cfg.DynamoDBOperationsTable, realClock, log)
	router := fanout.New(bundle.SNS, cfg.SNSTopicARN, log)

	filter, err := parseLabelFilter(labelFlag)
	if err != nil {
		return err
	}

	clusters := discoverer.Discover(ctx, filter)
	clusterInputs, targets := buildTargets(clusters, accountID, region, clusterName, nodegroupName, action, int32(desired), int32(minSize), int32(maxSize))
	if len(clusterInputs) == 0 {
		return fmt.Errorf("no matching clusters/nodegroups discovered for the given filters")
	}

	operationID := uuid.NewString()
	if _, err := state.CreateOperation(ctx, operationID, action, initiatedBy, "", clusterInputs); err != nil {
		return fmt.Errorf("create operation: %w", err)
	}

	result, err := router.Publish(ctx, operationID, action, initiatedBy, clusterInputs, targets)
	if err != nil {
		log.Warn("fan-out had partial failures", zap.String("operation_id", operationID), zap.Error(err))
	}

	fmt.Printf("operation_id=%s clusters=%d nodegroups=%d\n", operationID, result.ClustersCount, result.NodeGroupsCount)
	return nil
}

func parseAction(s string) (string, error) {
	switch s {
	case operation.ActionStop, operation.ActionStart, operation.ActionScale:
		return s, nil
	default:
		return "", fmt.Errorf("unknown action %q, must be one of stop, start, scale", s)
	}
}

func parseLabelFilter(s string) (discovery.LabelFilter, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, fmt.Errorf("invalid -label %q, expected key=value", s)
	}
	return discovery.LabelFilter{parts[0]: parts[1]}, nil
}

func buildTargets(clusters []discovery.Cluster, accountID, region, clusterName, nodegroupName, action string, desired, minSize, maxSize int32) ([]operation.ClusterInput, map[string]fanout.ScaleTargets) {
	var inputs []operation.ClusterInput
	targets := map[string]fanout.ScaleTargets{}

	for _, c := range clusters {
		if accountID != "" && c.AccountID != accountID {
			continue
		}
		if region != "" && c.Region != region {
			continue
		}
		if clusterName != "" && c.ClusterName != clusterName {
			continue
		}

		var ngInputs []operation.NodeGroupInput
		for _, ng := range c.NodeGroups {
			if nodegroupName != "" && ng.Name != nodegroupName {
				continue
			}
			ngInputs = append(ngInputs, operation.NodeGroupInput{
				Name:            ng.Name,
				ASGName:         ng.ASGName,
				OriginalDesired: ng.DesiredSize,
				OriginalMin:     ng.MinSize,
				OriginalMax:     ng.MaxSize,
			})
		}
		if len(ngInputs) == 0 {
			continue
		}

		input := operation.ClusterInput{
			AccountID:   c.AccountID,
			Region:      c.Region,
			ClusterName: c.ClusterName,
			NodeGroups:  ngInputs,
		}
		inputs = append(inputs, input)

		if action == operation.ActionScale {
			for _, ng := range ngInputs {
				d, mn, mx := desired, minSize, maxSize
				targets[operation.NodeGroupID(input.ClusterID(), ng.Name)] = fanout.ScaleTargets{Desired: &d, Min: &mn, Max: &mx}
			}
		}
	}

	return inputs, targets
}
