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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoStore is the production Store backed by Amazon DynamoDB. Every
// table it touches is expected to use "PK"/"SK" as its key attribute
// names. Item expiry is carried per table: operation and lock rows store
// it in "expires_at", schedule execution rows in "ttl" (see SPEC_FULL.md
// §3).
type DynamoStore struct {
	client *dynamodb.Client
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore wraps a DynamoDB client.
func NewDynamoStore(client *dynamodb.Client) *DynamoStore {
	return &DynamoStore{client: client}
}

func keyAV(key Key) map[string]types.AttributeValue {
	av := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key.PK},
	}
	if key.SK != "" {
		av["SK"] = &types.AttributeValueMemberS{Value: key.SK}
	}
	return av
}

func itemAV(key Key, item Item) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	for k, v := range keyAV(key) {
		av[k] = v
	}
	return av, nil
}

func (d *DynamoStore) Put(ctx context.Context, table string, key Key, item Item) error {
	av, err := itemAV(key, item)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &table,
		Item:      av,
	})
	return err
}

func (d *DynamoStore) PutIfAbsent(ctx context.Context, table string, key Key, item Item) (bool, error) {
	av, err := itemAV(key, item)
	if err != nil {
		return false, err
	}

	cond := expression.AttributeNotExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, fmt.Errorf("build condition: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &table,
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionalCheckFailed(err) {
		return false, nil
	}
	return err == nil, err
}

func (d *DynamoStore) PutIfAbsentOrExpired(ctx context.Context, table string, key Key, item Item, expiresAttr string, now int64) (bool, error) {
	av, err := itemAV(key, item)
	if err != nil {
		return false, err
	}

	cond := expression.Or(
		expression.AttributeNotExists(expression.Name("PK")),
		expression.Name(expiresAttr).LessThan(expression.Value(now)),
	)
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, fmt.Errorf("build condition: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &table,
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionalCheckFailed(err) {
		return false, nil
	}
	return err == nil, err
}

func (d *DynamoStore) Get(ctx context.Context, table string, key Key) (Item, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &table,
		Key:       keyAV(key),
	})
	if err != nil {
		return nil, false, err
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("unmarshal item: %w", err)
	}
	return item, true, nil
}

func (d *DynamoStore) Query(ctx context.Context, table, pk string, opts QueryOptions) ([]Item, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(pk))
	if opts.SKPrefix != "" {
		keyCond = keyCond.And(expression.Key("SK").BeginsWith(opts.SKPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 &table,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          &opts.ScanIndexForward,
	}
	if opts.Limit > 0 {
		input.Limit = &opts.Limit
	}

	out, err := d.client.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	return unmarshalItems(out.Items)
}

func (d *DynamoStore) QueryIndex(ctx context.Context, table, indexName, attrName, attrValue string) ([]Item, error) {
	keyCond := expression.Key(attrName).Equal(expression.Value(attrValue))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &table,
		IndexName:                 &indexName,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, err
	}
	return unmarshalItems(out.Items)
}

func (d *DynamoStore) Update(ctx context.Context, table string, key Key, sets Item, increments map[string]int64) error {
	var upd expression.UpdateBuilder
	hasUpdates := false
	for k, v := range sets {
		upd = upd.Set(expression.Name(k), expression.Value(v))
		hasUpdates = true
	}
	for k, delta := range increments {
		upd = upd.Add(expression.Name(k), expression.Value(delta))
		hasUpdates = true
	}
	if !hasUpdates {
		return nil
	}

	expr, err := expression.NewBuilder().WithUpdate(upd).Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &table,
		Key:                       keyAV(key),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

func (d *DynamoStore) Delete(ctx context.Context, table string, key Key) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &table,
		Key:       keyAV(key),
	})
	return err
}

func (d *DynamoStore) BatchPut(ctx context.Context, table string, items []ItemWithKey) error {
	const maxBatch = 25 // DynamoDB BatchWriteItem limit
	for start := 0; start < len(items); start += maxBatch {
		end := min(start+maxBatch, len(items))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, it := range items[start:end] {
			av, err := itemAV(it.Key, it.Item)
			if err != nil {
				return err
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		_, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: reqs},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalItems(raw []map[string]types.AttributeValue) ([]Item, error) {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var item Item
		if err := attributevalue.UnmarshalMap(r, &item); err != nil {
			return nil, fmt.Errorf("unmarshal item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func isConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}
