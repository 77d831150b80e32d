package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/badger"
)

type fakePipeline struct {
	mu       sync.Mutex
	inflight int
	peak     int
	runs     []string
	done     atomic.Int32
	run      func(ctx context.Context, conn *models.Connection) *models.CrawlResult
}

func (p *fakePipeline) Run(ctx context.Context, conn *models.Connection) *models.CrawlResult {
	p.mu.Lock()
	p.inflight++
	p.peak = max(p.peak, p.inflight)
	p.runs = append(p.runs, conn.ID)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
		p.done.Add(1)
	}()

	if p.run != nil {
		return p.run(ctx, conn)
	}
	time.Sleep(10 * time.Millisecond)
	return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusSuccess, CountsNew: 1}
}

type fakeSweeper struct {
	calls atomic.Int32
	age   atomic.Int64
}

func (f *fakeSweeper) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	f.calls.Add(1)
	f.age.Store(int64(olderThan))
	return 0, nil
}

func newConnections(t *testing.T, conns ...*models.Connection) interfaces.ConnectionStorage {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, conn := range conns {
		conn.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, manager.ConnectionStorage().SaveConnection(context.Background(), conn))
	}
	return manager.ConnectionStorage()
}

func activeConnections(n int) []*models.Connection {
	conns := make([]*models.Connection, n)
	for i := range conns {
		conns[i] = &models.Connection{
			ID:       fmt.Sprintf("conn_%02d", i),
			TenantID: "tenant_1",
			Platform: models.PlatformGoogle,
			IsActive: true,
		}
	}
	return conns
}

func TestRunAll_Batches(t *testing.T) {
	pipeline := &fakePipeline{}
	svc := NewService(newConnections(t, activeConnections(7)...), pipeline, nil, Options{}, arbor.NewLogger())

	var delays []time.Duration
	var completedAtPause []int32
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		completedAtPause = append(completedAtPause, pipeline.done.Load())
		return nil
	}

	summary, err := svc.RunAll(context.Background(), models.RunOptions{BatchSize: 3, InterBatchDelay: 2 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 7, summary.TotalConnections)
	assert.Equal(t, 7, summary.SuccessCount)
	assert.Equal(t, 7, summary.TotalNewRecords)
	require.Len(t, summary.Results, 7)
	assert.Equal(t, "conn_00", summary.Results[0].ConnectionID)
	assert.Equal(t, "conn_06", summary.Results[6].ConnectionID)

	// No pause after the last batch, and every batch finished before the next pause
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, delays)
	assert.Equal(t, []int32{3, 6}, completedAtPause)
	assert.LessOrEqual(t, pipeline.peak, 3)

	assert.Same(t, summary, svc.LastSummary())
}

func TestRunAll_ZeroDelayUsesDefault(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
		want  time.Duration
	}{
		{"unset", 0, models.DefaultInterBatchDelay},
		{"disabled", models.NoInterBatchDelay, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newConnections(t, activeConnections(4)...), &fakePipeline{}, nil, Options{}, arbor.NewLogger())
			var delays []time.Duration
			svc.sleep = func(ctx context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			}

			_, err := svc.RunAll(context.Background(), models.RunOptions{BatchSize: 2, InterBatchDelay: tt.delay})
			require.NoError(t, err)
			assert.Equal(t, []time.Duration{tt.want}, delays)
		})
	}
}

func TestRunAll_AggregatesOutcomes(t *testing.T) {
	pipeline := &fakePipeline{
		run: func(ctx context.Context, conn *models.Connection) *models.CrawlResult {
			switch conn.ID {
			case "conn_00":
				return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusSuccess, CountsFound: 5, CountsNew: 2}
			case "conn_01":
				return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusFailed, Error: "navigation failed"}
			case "conn_02":
				return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusSkipped}
			default:
				return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusSuccess, CountsNew: 4}
			}
		},
	}
	svc := NewService(newConnections(t, activeConnections(4)...), pipeline, nil, Options{}, arbor.NewLogger())
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	summary, err := svc.RunAll(context.Background(), models.RunOptions{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Equal(t, 6, summary.TotalNewRecords)
}

func TestRunAll_OnlyEligibleConnections(t *testing.T) {
	conns := activeConnections(4)
	conns[1].IsActive = false
	conns[2].Platform = models.PlatformYelp
	conns[3].TenantID = "tenant_2"

	pipeline := &fakePipeline{}
	svc := NewService(newConnections(t, conns...), pipeline, nil, Options{}, arbor.NewLogger())

	summary, err := svc.RunAll(context.Background(), models.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalConnections)
	assert.NotContains(t, pipeline.runs, "conn_01")

	pipeline.runs = nil
	summary, err = svc.RunAll(context.Background(), models.RunOptions{Platforms: []models.Platform{models.PlatformYelp}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalConnections)
	assert.Equal(t, []string{"conn_02"}, pipeline.runs)

	pipeline.runs = nil
	summary, err = svc.RunAll(context.Background(), models.RunOptions{TenantID: "tenant_2"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalConnections)
	assert.Equal(t, []string{"conn_03"}, pipeline.runs)
}

func TestRunAll_NoConnections(t *testing.T) {
	svc := NewService(newConnections(t), &fakePipeline{}, nil, Options{}, arbor.NewLogger())
	slept := false
	svc.sleep = func(context.Context, time.Duration) error {
		slept = true
		return nil
	}

	summary, err := svc.RunAll(context.Background(), models.RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalConnections)
	assert.Empty(t, summary.Results)
	assert.False(t, slept)
}

func TestRunAll_RejectsConcurrentPass(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	pipeline := &fakePipeline{
		run: func(ctx context.Context, conn *models.Connection) *models.CrawlResult {
			close(entered)
			<-release
			return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusSuccess}
		},
	}
	svc := NewService(newConnections(t, activeConnections(1)...), pipeline, nil, Options{}, arbor.NewLogger())

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.RunAll(context.Background(), models.RunOptions{})
		errCh <- err
	}()

	<-entered
	assert.True(t, svc.IsProcessing())
	_, err := svc.RunAll(context.Background(), models.RunOptions{})
	assert.ErrorIs(t, err, models.ErrRunInProgress)

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, svc.IsProcessing())
}

func TestRunAll_CancellationStopsFurtherBatches(t *testing.T) {
	pipeline := &fakePipeline{}
	svc := NewService(newConnections(t, activeConnections(6)...), pipeline, nil, Options{}, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	summary, err := svc.RunAll(ctx, models.RunOptions{BatchSize: 2, InterBatchDelay: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 6, summary.TotalConnections)
	assert.Len(t, summary.Results, 2)
	assert.Len(t, pipeline.runs, 2)
}

func TestRunAll_RecoversWorkerPanic(t *testing.T) {
	pipeline := &fakePipeline{
		run: func(ctx context.Context, conn *models.Connection) *models.CrawlResult {
			if conn.ID == "conn_01" {
				panic("boom")
			}
			return &models.CrawlResult{ConnectionID: conn.ID, Status: models.CrawlStatusSuccess}
		},
	}
	svc := NewService(newConnections(t, activeConnections(3)...), pipeline, nil, Options{}, arbor.NewLogger())

	summary, err := svc.RunAll(context.Background(), models.RunOptions{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, "conn_01", summary.Results[1].ConnectionID)
	assert.Contains(t, summary.Results[1].Error, "boom")
}

func TestPartition(t *testing.T) {
	conns := activeConnections(5)

	batches := partition(conns, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "conn_04", batches[2][0].ID)

	assert.Len(t, partition(conns, 0), 1)
	assert.Empty(t, partition(nil, 3))
}

func TestStartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := NewService(newConnections(t), &fakePipeline{}, sweeper, Options{SweepInterval: time.Hour}, arbor.NewLogger())

	require.Error(t, svc.Start("not a cron"))

	require.NoError(t, svc.Start("*/5 * * * *"))
	assert.Error(t, svc.Start("*/5 * * * *"))

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(DefaultStaleAuditAge), sweeper.age.Load())

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	require.NoError(t, svc.Start(""))
	require.NoError(t, svc.Stop())
}
