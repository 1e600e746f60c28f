package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/clock"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/discovery"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/fanout"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/operation"
	"github.com/nimishmehta8779/multi-eks-cluster-scheduler/internal/store/memstore"
)

type fakeDiscoverer struct {
	clusters []discovery.Cluster
}

func (f *fakeDiscoverer) Discover(_ context.Context, _ discovery.LabelFilter) []discovery.Cluster {
	return f.clusters
}

type fakeSNS struct {
	published int
}

func (f *fakeSNS) Publish(_ context.Context, _ *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.published++
	return &sns.PublishOutput{}, nil
}

func newPollerHarness(t *testing.T, now time.Time) (*Poller, *Manager) {
	t.Helper()
	db := memstore.New()
	fixed := clock.Fixed{At: now}
	log := zap.NewNop()

	mgr := New(db, "schedules", fixed, log)
	state := operation.New(db, "operations", fixed, log)
	router := fanout.New(&fakeSNS{}, "arn:aws:sns:us-east-1:111111111111:topic", log)

	cluster := discovery.Cluster{
		AccountID:   "111111111111",
		Region:      "us-east-1",
		ClusterName: "cluster-a",
		NodeGroups: []discovery.NodeGroup{
			{Name: "workers-1", ASGName: "asg-1", DesiredSize: 2, MinSize: 1, MaxSize: 4},
		},
	}
	discoverer := &fakeDiscoverer{clusters: []discovery.Cluster{cluster}}

	poller := NewPoller(mgr, state, discoverer, state, router, fixed, log)
	return poller, mgr
}

func TestPollTriggersDueSchedule(t *testing.T) {
	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // Monday 09:00 UTC
	poller, mgr := newPollerHarness(t, due)

	_, err := mgr.Create(context.Background(), CreateInput{
		Name:            "business-hours",
		Recurrence:      "0 9 * * 1-5",
		TimeZone:        "UTC",
		Target:          Target{AccountID: "111111111111", Region: "us-east-1", ClusterName: "cluster-a", NodeGroupName: "workers-1"},
		DesiredCapacity: 5,
		MinSize:         2,
		MaxSize:         10,
		CreatedBy:       "user@example.com",
	})
	require.NoError(t, err)

	summary := poller.Poll(context.Background())
	require.Equal(t, 1, summary.SchedulesEvaluated)
	require.Equal(t, 1, summary.Triggered)
	require.Equal(t, 0, summary.Errors)
}

func TestPollSkipsOffMinuteSchedule(t *testing.T) {
	offMinute := time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC)
	poller, mgr := newPollerHarness(t, offMinute)

	_, err := mgr.Create(context.Background(), CreateInput{
		Name:       "business-hours",
		Recurrence: "0 9 * * 1-5",
		TimeZone:   "UTC",
		Target:     Target{AccountID: "111111111111", Region: "us-east-1", ClusterName: "cluster-a", NodeGroupName: "workers-1"},
		CreatedBy:  "user@example.com",
	})
	require.NoError(t, err)

	summary := poller.Poll(context.Background())
	require.Equal(t, 0, summary.Triggered)
}

func TestPollSkipsPausedSchedule(t *testing.T) {
	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	poller, mgr := newPollerHarness(t, due)

	s, err := mgr.Create(context.Background(), CreateInput{
		Name:       "business-hours",
		Recurrence: "0 9 * * 1-5",
		TimeZone:   "UTC",
		Target:     Target{AccountID: "111111111111", Region: "us-east-1", ClusterName: "cluster-a", NodeGroupName: "workers-1"},
		CreatedBy:  "user@example.com",
	})
	require.NoError(t, err)
	_, err = mgr.Pause(context.Background(), s.ScheduleID, due.Add(time.Hour))
	require.NoError(t, err)

	summary := poller.Poll(context.Background())
	require.Equal(t, 0, summary.SchedulesEvaluated, "a paused schedule is not enabled, so it never reaches the poll list")
}

func TestPollDoesNotDoubleTriggerWithinSameMinute(t *testing.T) {
	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	poller, mgr := newPollerHarness(t, due)

	_, err := mgr.Create(context.Background(), CreateInput{
		Name:       "business-hours",
		Recurrence: "0 9 * * 1-5",
		TimeZone:   "UTC",
		Target:     Target{AccountID: "111111111111", Region: "us-east-1", ClusterName: "cluster-a", NodeGroupName: "workers-1"},
		CreatedBy:  "user@example.com",
	})
	require.NoError(t, err)

	first := poller.Poll(context.Background())
	require.Equal(t, 1, first.Triggered)

	second := poller.Poll(context.Background())
	require.Equal(t, 0, second.Triggered, "the lock must prevent a second trigger in the same minute")
}
