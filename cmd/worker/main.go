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

// Command worker long-polls the fan-out queue and applies the scale
// operations it carries, one batch at a time, until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsclients"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/baseline"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/capacity"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/config"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/credentials"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/discovery"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/handlers"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/logging"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "receive and process a single batch, then exit")
	waitSeconds := flag.Int64("wait-seconds", 20, "SQS long-poll wait time in seconds")
	maxMessages := flag.Int64("max-messages", 10, "maximum messages to receive per batch")
	flag.Parse()

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsclients.LoadManagementConfig(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatal("load management aws config", zap.Error(err))
	}
	bundle := awsclients.NewBundle(awsCfg)

	broker := credentials.NewBroker(bundle.STS, cfg.OperatorRoleName, cfg.ExternalID, cfg.AWSRegion)
	factory := awsclients.NewFactory(broker)

	discoverer := discovery.New(factory, bundle.Organizations, cfg.ManagementAccountID, cfg.TargetAccountIDs, cfg.ParsedTargetRegions(), cfg.MaxDiscoveryWorkers, log)
	controller := capacity.New(factory, log)

	db := store.NewDynamoStore(bundle.DynamoDB)
	baselines := baseline.New(db, cfg.DynamoDBClusterStateTable, clock.Real{}, log)
	state := operation.New(db, cfg.DynamoDBOperationsTable, clock.Real{}, log)

	w := worker.New(discoverer, controller, baselines, state, log)

	log.Info("worker started", zap.String("queue_url", cfg.SQSQueueURL), zap.Bool("once", *once))

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return
		default:
		}

		out, err := bundle.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(cfg.SQSQueueURL),
			MaxNumberOfMessages: int32(*maxMessages),
			WaitTimeSeconds:     int32(*waitSeconds),
			VisibilityTimeout:   int32(cfg.TaskVisibilityTimeout),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("receive message batch", zap.Error(err))
			continue
		}

		if len(out.Messages) == 0 {
			if *once {
				return
			}
			continue
		}

		processBatch(ctx, w, bundle.SQS, cfg.SQSQueueURL, out.Messages, log)

		if *once {
			return
		}
	}
}

func processBatch(ctx context.Context, w *worker.Worker, sqsClient sqsAPI, queueURL string, messages []sqstypes.Message, log *zap.Logger) {
	records := make([]worker.RawMessage, 0, len(messages))
	byID := make(map[string]sqstypes.Message, len(messages))
	warmUps := make([]sqstypes.Message, 0)

	for _, m := range messages {
		body := []byte(aws.ToString(m.Body))
		if handlers.IsWarmUp(body) {
			warmUps = append(warmUps, m)
			continue
		}
		records = append(records, worker.RawMessage{MessageID: aws.ToString(m.MessageId), Body: body})
		byID[aws.ToString(m.MessageId)] = m
	}

	toDelete := append([]sqstypes.Message{}, warmUps...)

	if len(records) > 0 {
		failed := w.ProcessBatch(ctx, records)
		resp := handlers.NewBatchResponse(failed)
		failedIDs := make(map[string]bool, len(resp.BatchItemFailures))
		for _, f := range resp.BatchItemFailures {
			failedIDs[f.ItemIdentifier] = true
		}
		for id, m := range byID {
			if !failedIDs[id] {
				toDelete = append(toDelete, m)
			}
		}
		if len(failed) > 0 {
			log.Warn("batch had failed messages, leaving for redelivery", zap.Int("failed", len(failed)), zap.Int("total", len(records)))
		}
	}

	deleteMessages(ctx, sqsClient, queueURL, toDelete, log)
}

type sqsAPI interface {
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

func deleteMessages(ctx context.Context, sqsClient sqsAPI, queueURL string, messages []sqstypes.Message, log *zap.Logger) {
	if len(messages) == 0 {
		return
	}
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(messages))
	for i, m := range messages {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("%d", i)),
			ReceiptHandle: m.ReceiptHandle,
		})
	}
	if _, err := sqsClient.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	}); err != nil {
		log.Error("delete message batch", zap.Error(err))
	}
}
