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

// Package config loads the scheduler's settings from the environment into
// a single explicit Config value, constructed once at process start and
// threaded through the rest of the program instead of a global singleton.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all scheduler configuration, loaded from environment
// variables.
type Config struct {
	ManagementAccountID string   `env:"MANAGEMENT_ACCOUNT_ID,required"`
	TargetAccountIDs    []string `env:"TARGET_ACCOUNT_IDS" envSeparator:","`
	OperatorRoleName    string   `env:"OPERATOR_ROLE_NAME" envDefault:"eks-operator-spoke"`
	ExternalID          string   `env:"EXTERNAL_ID,required"`

	SNSTopicARN string `env:"SNS_TOPIC_ARN,required"`
	SQSQueueURL string `env:"SQS_QUEUE_URL,required"`

	DynamoDBOperationsTable   string `env:"DYNAMODB_OPERATIONS_TABLE" envDefault:"eks-operations"`
	DynamoDBClusterStateTable string `env:"DYNAMODB_CLUSTER_STATE_TABLE" envDefault:"eks-cluster-state"`
	DynamoDBSchedulesTable    string `env:"DYNAMODB_SCHEDULES_TABLE" envDefault:"eks-schedules"`

	AWSRegion     string   `env:"AWS_REGION" envDefault:"us-east-1"`
	TargetRegions []string `env:"TARGET_REGIONS" envSeparator:","`

	MaxDiscoveryWorkers   int `env:"MAX_DISCOVERY_WORKERS" envDefault:"10"`
	TaskVisibilityTimeout int `env:"TASK_VISIBILITY_TIMEOUT" envDefault:"900"`
	LambdaMaxConcurrency  int `env:"LAMBDA_MAX_CONCURRENCY" envDefault:"10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ParsedTargetRegions returns the configured target regions, falling back
// to the scheduler's home region when none are set.
func (c *Config) ParsedTargetRegions() []string {
	if len(c.TargetRegions) > 0 {
		return c.TargetRegions
	}
	return []string{c.AWSRegion}
}

// RoleARN builds the spoke role ARN for a target account.
func (c *Config) RoleARN(accountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, c.OperatorRoleName)
}

// HasExplicitTargetAccounts reports whether target_account_ids was set,
// short-circuiting Organizations-based account resolution.
func (c *Config) HasExplicitTargetAccounts() bool {
	return len(nonEmpty(c.TargetAccountIDs)) > 0
}

func nonEmpty(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
