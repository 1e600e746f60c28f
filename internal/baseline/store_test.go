package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store/memstore"
)

func newStore() *Store {
	fixed := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(memstore.New(), "cluster-state", fixed, zap.NewNop())
}

func TestSaveCreatesBaselineOnce(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	created, err := s.Save(ctx, "111111111111:us-east-1:c1", "workers", 3, 1, 5)
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.Save(ctx, "111111111111:us-east-1:c1", "workers", 0, 0, 5)
	require.NoError(t, err)
	require.False(t, created, "second save must not overwrite the original")

	b, err := s.Get(ctx, "111111111111:us-east-1:c1", "workers")
	require.NoError(t, err)
	require.NotNil(t, b)
	require.EqualValues(t, 3, b.Desired)
	require.EqualValues(t, 1, b.Min)
}

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	s := newStore()
	b, err := s.Get(context.Background(), "111111111111:us-east-1:c1", "workers")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestDeleteIsUnconditional(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	_, err := s.Save(ctx, "111111111111:us-east-1:c1", "workers", 3, 1, 5)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "111111111111:us-east-1:c1", "workers"))

	b, err := s.Get(ctx, "111111111111:us-east-1:c1", "workers")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestListReturnsAllBaselinesForCluster(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	_, err := s.Save(ctx, "111111111111:us-east-1:c1", "workers-a", 3, 1, 5)
	require.NoError(t, err)
	_, err = s.Save(ctx, "111111111111:us-east-1:c1", "workers-b", 2, 1, 4)
	require.NoError(t, err)
	_, err = s.Save(ctx, "111111111111:us-east-1:c2", "workers-a", 1, 1, 1)
	require.NoError(t, err)

	list, err := s.List(ctx, "111111111111:us-east-1:c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}
