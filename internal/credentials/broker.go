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

// Package credentials implements the scheduler's credential broker: it
// mints scoped sessions for target accounts by assuming a well-known
// spoke role, and caches them so the STS AssumeRole call isn't repeated
// on every discovery or capacity-control call.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	gocache "github.com/patrickmn/go-cache"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/awsapi"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/xerrors"
)

const (
	// sessionTTL matches the spec's 45-minute cache TTL: STS tokens last
	// an hour, and the margin covers clock skew and in-flight calls.
	sessionTTL = 45 * time.Minute
	// assumeRoleDuration is the STS session duration requested per call.
	assumeRoleDuration = int32(3600)
)

// Session is a scoped, region-bound AWS config for a single target
// account, built from temporary STS credentials.
type Session struct {
	AccountID string
	Region    string
	Config    aws.Config
	ExpiresAt time.Time
}

// Broker mints and caches per-(account,region) sessions. The cache
// (go-cache) carries its own internal locking; the AssumeRole call below
// always happens outside of any lock the cache holds, so a slow STS call
// for one account never blocks lookups for another.
type Broker struct {
	sts              awsapi.STSAPI
	cache            *gocache.Cache
	operatorRoleName string
	externalID       string
	baseRegion       string
}

// NewBroker constructs a Broker. baseRegion is used as the session's
// region when the caller does not specify one.
func NewBroker(stsClient awsapi.STSAPI, operatorRoleName, externalID, baseRegion string) *Broker {
	return &Broker{
		sts:              stsClient,
		cache:            gocache.New(sessionTTL, sessionTTL/3),
		operatorRoleName: operatorRoleName,
		externalID:       externalID,
		baseRegion:       baseRegion,
	}
}

func (b *Broker) cacheKey(accountID, region string) string {
	return accountID + "/" + region
}

// Session returns a cached or freshly-minted scoped session for the
// target account and region.
func (b *Broker) Session(ctx context.Context, accountID, region string) (*Session, error) {
	if region == "" {
		region = b.baseRegion
	}
	key := b.cacheKey(accountID, region)

	if cached, ok := b.cache.Get(key); ok {
		return cached.(*Session), nil
	}

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, b.operatorRoleName)
	out, err := b.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(fmt.Sprintf("eks-operator-%s", accountID)),
		ExternalId:      aws.String(b.externalID),
		DurationSeconds: aws.Int32(assumeRoleDuration),
	})
	if err != nil {
		return nil, &xerrors.AssumeRoleError{AccountID: accountID, RoleARN: roleARN, Err: err}
	}

	creds := out.Credentials
	sess := &Session{
		AccountID: accountID,
		Region:    region,
		ExpiresAt: *creds.Expiration,
		Config: aws.Config{
			Region: region,
			Credentials: awscreds.NewStaticCredentialsProvider(
				*creds.AccessKeyId,
				*creds.SecretAccessKey,
				*creds.SessionToken,
			),
		},
	}

	b.cache.Set(key, sess, sessionTTL)
	return sess, nil
}

// Config is a convenience wrapper returning just the scoped aws.Config.
func (b *Broker) Config(ctx context.Context, accountID, region string) (aws.Config, error) {
	sess, err := b.Session(ctx, accountID, region)
	if err != nil {
		return aws.Config{}, err
	}
	return sess.Config, nil
}
