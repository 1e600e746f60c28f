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

// Command poller evaluates every enabled schedule once against the
// current minute and fans out the ones that are due. It is meant to be
// invoked on a one-minute cadence by an external scheduler rather than
// running its own ticker loop.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsclients"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/config"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/credentials"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/discovery"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/fanout"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/logging"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/schedule"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %s\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	awsCfg, err := awsclients.LoadManagementConfig(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatal("load management aws config", zap.Error(err))
	}
	bundle := awsclients.NewBundle(awsCfg)

	broker := credentials.NewBroker(bundle.STS, cfg.OperatorRoleName, cfg.ExternalID, cfg.AWSRegion)
	factory := awsclients.NewFactory(broker)

	discoverer := discovery.New(factory, bundle.Organizations, cfg.ManagementAccountID, cfg.TargetAccountIDs, cfg.ParsedTargetRegions(), cfg.MaxDiscoveryWorkers, log)

	db := store.NewDynamoStore(bundle.DynamoDB)
	realClock := clock.Real{}
	state := operation.New(db, cfg.DynamoDBOperationsTable, realClock, log)
	manager := schedule.New(db, cfg.DynamoDBSchedulesTable, realClock, log)
	router := fanout.New(bundle.SNS, cfg.SNSTopicARN, log)

	poller := schedule.NewPoller(manager, state, discoverer, state, router, realClock, log)

	summary := poller.Poll(ctx)
	log.Info("poll cycle finished",
		zap.Int("schedules_evaluated", summary.SchedulesEvaluated),
		zap.Int("triggered", summary.Triggered),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)

	if summary.Errors > 0 {
		os.Exit(1)
	}
}
