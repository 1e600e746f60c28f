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

// Package awsclients wires the management-account AWS SDK v2 clients and
// the per-account client factory used by discovery and capacity control.
package awsclients

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/credentials"
)

// Bundle holds the clients constructed against the management account's
// own credentials, as opposed to per-target-account scoped clients.
type Bundle struct {
	STS           *sts.Client
	Organizations *organizations.Client
	SNS           *sns.Client
	SQS           *sqs.Client
	DynamoDB      *dynamodb.Client
}

// LoadManagementConfig loads the default credential chain for the
// management account, scoped to the given region.
func LoadManagementConfig(ctx context.Context, region string) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}

// NewBundle constructs the management-account client bundle.
func NewBundle(cfg aws.Config) *Bundle {
	return &Bundle{
		STS:           sts.NewFromConfig(cfg),
		Organizations: organizations.NewFromConfig(cfg),
		SNS:           sns.NewFromConfig(cfg),
		SQS:           sqs.NewFromConfig(cfg),
		DynamoDB:      dynamodb.NewFromConfig(cfg),
	}
}

// Factory builds per-(account,region) scoped EKS and Auto Scaling
// clients via the credential broker. It implements awsapi.ClientFactory.
type Factory struct {
	broker *credentials.Broker
}

// NewFactory constructs a Factory backed by the given credential broker.
func NewFactory(broker *credentials.Broker) *Factory {
	return &Factory{broker: broker}
}

var _ awsapi.ClientFactory = (*Factory)(nil)

// EKSClient returns an EKS client scoped to the target account/region.
func (f *Factory) EKSClient(ctx context.Context, accountID, region string) (awsapi.EKSAPI, error) {
	cfg, err := f.broker.Config(ctx, accountID, region)
	if err != nil {
		return nil, err
	}
	return eks.NewFromConfig(cfg), nil
}

// AutoScalingClient returns an Auto Scaling client scoped to the target
// account/region.
func (f *Factory) AutoScalingClient(ctx context.Context, accountID, region string) (awsapi.AutoScalingAPI, error) {
	cfg, err := f.broker.Config(ctx, accountID, region)
	if err != nil {
		return nil, err
	}
	return autoscaling.NewFromConfig(cfg), nil
}
