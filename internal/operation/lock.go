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

package operation

import (
	"context"
	"fmt"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store"
)

const defaultLockTTLSeconds = 120

// AcquireLock grants single-winner semantics for a named action within
// a TTL window: the conditional put succeeds only if the lock row is
// absent or already expired. Locks are never released explicitly — they
// expire on their own.
func (s *State) AcquireLock(ctx context.Context, lockKey string, ttlSeconds int) (bool, error) {
	if ttlSeconds <= 0 {
		ttlSeconds = defaultLockTTLSeconds
	}
	now := s.clock.Now().Unix()
	expiresAt := now + int64(ttlSeconds)

	item := store.Item{
		"acquired_at": isoNow(s.clock),
		"expires_at":  expiresAt,
	}

	acquired, err := s.db.PutIfAbsentOrExpired(ctx, s.table, store.Key{PK: "LOCK#" + lockKey, SK: "LOCK"}, item, "expires_at", now)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	return acquired, nil
}
