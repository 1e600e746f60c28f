package operation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store/memstore"
)

func newState() *State {
	fixed := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(memstore.New(), "operations", fixed, zap.NewNop())
}

func sampleClusters() []ClusterInput {
	return []ClusterInput{
		{
			AccountID:   "111111111111",
			Region:      "us-east-1",
			ClusterName: "cluster-a",
			NodeGroups: []NodeGroupInput{
				{Name: "workers-1", ASGName: "asg-1", OriginalDesired: 3, OriginalMin: 1, OriginalMax: 5},
				{Name: "workers-2", ASGName: "asg-2", OriginalDesired: 2, OriginalMin: 1, OriginalMax: 4},
			},
		},
	}
}

func TestCreateOperationSeedsAllRows(t *testing.T) {
	s := newState()
	ctx := context.Background()

	meta, err := s.CreateOperation(ctx, "op-1", ActionStop, "user@example.com", "", sampleClusters())
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, meta.Status)
	require.Equal(t, 1, meta.TotalClusters)
	require.Equal(t, 2, meta.TotalNodeGroups)

	clusters, err := s.Clusters(ctx, "op-1")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, StatusPending, clusters[0].Status)

	ngs, err := s.NodeGroupsForCluster(ctx, "op-1", clusters[0].ClusterID)
	require.NoError(t, err)
	require.Len(t, ngs, 2)
}

func TestUpdateNodeGroupStatusPropagatesToCompleted(t *testing.T) {
	s := newState()
	ctx := context.Background()

	_, err := s.CreateOperation(ctx, "op-1", ActionStop, "user@example.com", "", sampleClusters())
	require.NoError(t, err)

	clusterID := "111111111111:us-east-1:cluster-a"
	desired := int32(0)
	require.NoError(t, s.UpdateNodeGroupStatus(ctx, "op-1", clusterID+":workers-1", StatusCompleted, "", &desired))
	require.NoError(t, s.UpdateNodeGroupStatus(ctx, "op-1", clusterID+":workers-2", StatusCompleted, "", &desired))

	meta, err := s.GetMeta(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, meta.Status)

	clusters, err := s.Clusters(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, clusters[0].Status)
}

func TestUpdateNodeGroupStatusPartialFailure(t *testing.T) {
	s := newState()
	ctx := context.Background()

	_, err := s.CreateOperation(ctx, "op-1", ActionStop, "user@example.com", "", sampleClusters())
	require.NoError(t, err)

	clusterID := "111111111111:us-east-1:cluster-a"
	desired := int32(0)
	require.NoError(t, s.UpdateNodeGroupStatus(ctx, "op-1", clusterID+":workers-1", StatusCompleted, "", &desired))
	require.NoError(t, s.UpdateNodeGroupStatus(ctx, "op-1", clusterID+":workers-2", StatusFailed, "asg not found", nil))

	meta, err := s.GetMeta(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, StatusPartialFailure, meta.Status)

	ngs, err := s.NodeGroupsForCluster(ctx, "op-1", clusterID)
	require.NoError(t, err)
	var failed NodeGroupRow
	for _, ng := range ngs {
		if ng.Status == StatusFailed {
			failed = ng
		}
	}
	require.Equal(t, 1, failed.RetryCount)
	require.Equal(t, "asg not found", failed.ErrorMessage)
}
