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

// Package store abstracts the document store the spec describes: a
// composite (PK, SK) key space with conditional writes, a secondary
// index, and per-item TTL. The scheduler treats it abstractly through
// this interface; internal/store/dynamo.go is the DynamoDB-backed
// production implementation, internal/store/memstore is an in-memory
// fake used by the rest of the package's unit tests.
package store

import (
	"context"
	"errors"
)

// ErrConditionFailed names the outcome of a conditional write whose
// precondition does not hold (e.g. a baseline already exists, a lock is
// still held). The Store implementations do not return it: they report
// that outcome as false with a nil error, a normal result rather than an
// infrastructure error.
var ErrConditionFailed = errors.New("store: conditional check failed")

// ErrNotFound names the outcome of a Get with no item at the given key.
// The Store implementations do not return it: Get reports ok=false.
var ErrNotFound = errors.New("store: item not found")

// Item is a single document, keyed by attribute name. Values are plain
// Go types (string, int64, float64, bool, map[string]string, nil) —
// callers never see AWS SDK attribute-value types.
type Item map[string]any

// Key identifies an item by its partition key (and, where the table uses
// one, its sort key).
type Key struct {
	PK string
	SK string
}

// QueryOptions refine a Query call.
type QueryOptions struct {
	// SKPrefix restricts the query to sort keys with this prefix
	// (DynamoDB begins_with semantics). Ignored when querying an index.
	SKPrefix string
	// ScanIndexForward, when false, returns results in descending sort
	// key order (used for "most recent execution first").
	ScanIndexForward bool
	// Limit caps the number of items returned; zero means unlimited.
	Limit int32
}

// Store is the document-store contract every domain package builds on.
type Store interface {
	// Put writes an item unconditionally, overwriting any existing item
	// at the same key.
	Put(ctx context.Context, table string, key Key, item Item) error

	// PutIfAbsent writes item only if no item currently exists at key.
	// Returns false (no error) if one already exists — this is how the
	// baseline store and the schedule mapping enforce create-once
	// semantics.
	PutIfAbsent(ctx context.Context, table string, key Key, item Item) (bool, error)

	// PutIfAbsentOrExpired writes item if no item exists at key, or if
	// the existing item's expiresAttr (a unix-seconds numeric
	// attribute) is less than now. Returns false if the existing item
	// is still live — this is the idempotency lock's acquire operation.
	PutIfAbsentOrExpired(ctx context.Context, table string, key Key, item Item, expiresAttr string, now int64) (bool, error)

	// Get reads a single item. ok is false if nothing exists at key.
	Get(ctx context.Context, table string, key Key) (item Item, ok bool, err error)

	// Query returns items sharing a partition key, optionally narrowed
	// to a sort-key prefix.
	Query(ctx context.Context, table, pk string, opts QueryOptions) ([]Item, error)

	// QueryIndex returns items from a secondary index whose indexed
	// attribute equals attrValue (e.g. enabled == "true").
	QueryIndex(ctx context.Context, table, indexName, attrName, attrValue string) ([]Item, error)

	// Update patches an existing item: sets overwrites attributes
	// outright; increments adds the given deltas to existing numeric
	// attributes (creating them at the delta value if absent).
	Update(ctx context.Context, table string, key Key, sets Item, increments map[string]int64) error

	// Delete unconditionally removes an item. Deleting a missing item
	// is not an error.
	Delete(ctx context.Context, table string, key Key) error

	// BatchPut writes multiple items to the same table in one batch.
	BatchPut(ctx context.Context, table string, items []ItemWithKey) error
}

// ItemWithKey pairs an item with its key for batch writes, since a batch
// can span many distinct keys in one table.
type ItemWithKey struct {
	Key  Key
	Item Item
}
