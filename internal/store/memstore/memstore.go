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

// Package memstore is an in-memory fake of store.Store, used across the
// domain packages' unit tests in place of a live DynamoDB table. It
// reproduces the conditional-write and query semantics the real
// implementation gets from DynamoDB expressions, without needing to
// evaluate expressions at all.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

type row struct {
	key  store.Key
	item store.Item
}

// Store is a goroutine-safe, in-memory implementation of store.Store.
// Each table is an independent namespace; a zero Store is not usable,
// use New.
type Store struct {
	mu     sync.Mutex
	tables map[string]map[store.Key]store.Item
	// indexes maps table -> indexName -> attrName as registered by
	// WithIndex. QueryIndex does not consult it: it scans the table and
	// matches on the attrName it is given.
	indexes map[string]map[string]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tables:  make(map[string]map[store.Key]store.Item),
		indexes: make(map[string]map[string]string),
	}
}

// WithIndex registers a secondary index name against the attribute it
// indexes, mirroring what the real DynamoDB table defines in its schema.
// QueryIndex works without a registration; it matches on attrName alone.
func (s *Store) WithIndex(table, indexName, attrName string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexes[table] == nil {
		s.indexes[table] = make(map[string]string)
	}
	s.indexes[table][indexName] = attrName
	return s
}

func (s *Store) table(name string) map[store.Key]store.Item {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[store.Key]store.Item)
		s.tables[name] = t
	}
	return t
}

func clone(item store.Item) store.Item {
	out := make(store.Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (s *Store) Put(_ context.Context, table string, key store.Key, item store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(table)[key] = clone(item)
	return nil
}

func (s *Store) PutIfAbsent(_ context.Context, table string, key store.Key, item store.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	if _, exists := t[key]; exists {
		return false, nil
	}
	t[key] = clone(item)
	return true, nil
}

func (s *Store) PutIfAbsentOrExpired(_ context.Context, table string, key store.Key, item store.Item, expiresAttr string, now int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	existing, exists := t[key]
	if exists {
		exp, ok := asInt64(existing[expiresAttr])
		if !ok || exp >= now {
			return false, nil
		}
	}
	t[key] = clone(item)
	return true, nil
}

func (s *Store) Get(_ context.Context, table string, key store.Key) (store.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.table(table)[key]
	if !ok {
		return nil, false, nil
	}
	return clone(item), true, nil
}

func (s *Store) Query(_ context.Context, table, pk string, opts store.QueryOptions) ([]store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []row
	for k, v := range s.table(table) {
		if k.PK != pk {
			continue
		}
		if opts.SKPrefix != "" && !strings.HasPrefix(k.SK, opts.SKPrefix) {
			continue
		}
		rows = append(rows, row{key: k, item: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if opts.ScanIndexForward {
			return rows[i].key.SK < rows[j].key.SK
		}
		return rows[i].key.SK > rows[j].key.SK
	})
	if opts.Limit > 0 && int32(len(rows)) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	items := make([]store.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, clone(r.item))
	}
	return items, nil
}

func (s *Store) QueryIndex(_ context.Context, table, indexName, attrName, attrValue string) ([]store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []store.Item
	for _, v := range s.table(table) {
		if str, ok := v[attrName].(string); ok && str == attrValue {
			items = append(items, clone(v))
		}
	}
	return items, nil
}

func (s *Store) Update(_ context.Context, table string, key store.Key, sets store.Item, increments map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	item, ok := t[key]
	if !ok {
		item = store.Item{}
	} else {
		item = clone(item)
	}
	for k, v := range sets {
		item[k] = v
	}
	for k, delta := range increments {
		cur, _ := asInt64(item[k])
		item[k] = cur + delta
	}
	t[key] = item
	return nil
}

func (s *Store) Delete(_ context.Context, table string, key store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table(table), key)
	return nil
}

func (s *Store) BatchPut(_ context.Context, table string, items []store.ItemWithKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	for _, it := range items {
		t[it.Key] = clone(it.Item)
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

var _ store.Store = (*Store)(nil)
