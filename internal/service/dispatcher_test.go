package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/imagelab-api/internal/analysis"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/mocks"
	"github.com/phrazzld/imagelab-api/internal/pixel"
	"github.com/phrazzld/imagelab-api/internal/service"
	"github.com/phrazzld/imagelab-api/internal/store"
	"github.com/phrazzld/imagelab-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_CompletesColorAnalysis(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	f.start(t)
	img := f.upload(t)

	job, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)

	done := f.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobStatusCompleted, done.Status, done.Error)
	require.NotNil(t, done.CompletedAt)

	var result map[string]any
	require.NoError(t, json.Unmarshal(done.Result, &result))
	assert.Equal(t, "green", result["dominant_color"])
	assert.Equal(t, 1, f.jobs.Writes(job.ID))

	assert.Eventually(t, func() bool { return f.cache.Cached(job.ID) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := f.blobs.Get(service.ResultKey(job.ID))
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_UnsupportedTypeFailsImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	img := f.upload(t)

	job, err := f.dispatcher.Submit(context.Background(), img.Key, "sentiment_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "sentiment_analysis")
	for _, supported := range []string{analysis.TypeColor, analysis.TypeVegetation, analysis.TypeDetection} {
		assert.Contains(t, job.Error, supported)
	}

	stored, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Zero(t, f.dispatcher.QueueLen())
}

func TestDispatcher_UnknownImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)

	_, err := f.dispatcher.Submit(context.Background(), "20250101_000000_missing.png", analysis.TypeColor, nil)
	assert.ErrorIs(t, err, store.ErrImageNotFound)

	_, err = f.dispatcher.Submit(context.Background(), "../etc/passwd", analysis.TypeColor, nil)
	assert.ErrorIs(t, err, store.ErrImageNotFound)

	jobs, err := f.jobs.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDispatcher_AdoptsImageFoundOnlyInBlobStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	f.start(t)

	const key = "20250101_090000_manual.png"
	_, err := f.blobs.Put(context.Background(), key, greenSquarePNG(t))
	require.NoError(t, err)

	job, err := f.dispatcher.Submit(context.Background(), key, analysis.TypeVegetation, nil)
	require.NoError(t, err)

	img, err := f.images.GetImageByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "100x100", img.Dimensions())
	assert.Equal(t, img.ID, job.ImageID)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status, done.Error)
}

func TestDispatcher_UndecodableBlobIsNotAdopted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)

	const key = "20250101_090000_notes.png"
	_, err := f.blobs.Put(context.Background(), key, []byte("not an image"))
	require.NoError(t, err)

	_, err = f.dispatcher.Submit(context.Background(), key, analysis.TypeColor, nil)
	assert.ErrorIs(t, err, store.ErrImageNotFound)
	assert.Empty(t, f.images.Images)
}

func TestDispatcher_MissingBlobFailsJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	f.start(t)

	img, err := domain.NewImage("20250101_000000_gone.png", "gone.png", "mem://gone", 10, 4, 4)
	require.NoError(t, err)
	require.NoError(t, f.images.CreateImage(context.Background(), img))

	job, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "failed to load image")
}

func TestDispatcher_AnalyzerFailuresDoNotStopWorkers(t *testing.T) {
	t.Parallel()
	registry := analysis.NewRegistry()
	registry.Register("broken", func() (analysis.Analyzer, error) {
		return analysis.AnalyzerFunc(func(context.Context, *pixel.Buffer, analysis.Params) (analysis.Result, error) {
			return nil, errors.New("model exploded")
		}), nil
	})
	registry.Register("panicky", func() (analysis.Analyzer, error) {
		return analysis.AnalyzerFunc(func(context.Context, *pixel.Buffer, analysis.Params) (analysis.Result, error) {
			panic("index out of range")
		}), nil
	})
	registry.Register(analysis.TypeColor, func() (analysis.Analyzer, error) {
		return analysis.ColorAnalyzer{}, nil
	})

	cfg := testDispatcherConfig()
	cfg.Runner.WorkerCount = 1
	f := newFixture(t, cfg, registry)
	f.start(t)
	img := f.upload(t)

	broken, err := f.dispatcher.Submit(context.Background(), img.Key, "broken", nil)
	require.NoError(t, err)
	panicky, err := f.dispatcher.Submit(context.Background(), img.Key, "panicky", nil)
	require.NoError(t, err)
	healthy, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)

	done := f.waitTerminal(t, broken.ID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "model exploded")

	done = f.waitTerminal(t, panicky.ID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, task.ErrTaskPanicked.Error())

	done = f.waitTerminal(t, healthy.ID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
}

func TestDispatcher_ExecutionTimeoutFailsJob(t *testing.T) {
	t.Parallel()
	registry := analysis.NewRegistry()
	registry.Register("slow", func() (analysis.Analyzer, error) {
		return analysis.AnalyzerFunc(func(ctx context.Context, _ *pixel.Buffer, _ analysis.Params) (analysis.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil
	})

	cfg := testDispatcherConfig()
	cfg.Runner.ExecutionTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, registry)
	f.start(t)
	img := f.upload(t)

	job, err := f.dispatcher.Submit(context.Background(), img.Key, "slow", nil)
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
}

func TestDispatcher_QueueFullFailsJob(t *testing.T) {
	t.Parallel()
	cfg := testDispatcherConfig()
	cfg.Runner.QueueSize = 1
	f := newFixture(t, cfg, nil)
	img := f.upload(t)

	// Workers are not started, so the first job occupies the only slot.
	first, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)

	_, err = f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrJobNotAccepted)
	assert.ErrorIs(t, err, task.ErrQueueFull)

	jobs, err := f.jobs.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	statuses := map[string]domain.JobStatus{}
	for _, j := range jobs {
		statuses[j.ID] = j.Status
	}
	assert.Equal(t, domain.JobStatusProcessing, statuses[first.ID])
	delete(statuses, first.ID)
	for _, status := range statuses {
		assert.Equal(t, domain.JobStatusFailed, status)
	}

	// Stopping hands the queued job to the single terminal writer.
	f.dispatcher.Stop()
	stopped, err := f.jobs.GetJob(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stopped.Status)
	assert.Contains(t, stopped.Error, task.ErrShuttingDown.Error())
}

func TestDispatcher_ConcurrentSubmissions(t *testing.T) {
	t.Parallel()
	cfg := testDispatcherConfig()
	cfg.Runner.WorkerCount = 4
	f := newFixture(t, cfg, nil)
	f.start(t)
	img := f.upload(t)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			types := []string{analysis.TypeColor, analysis.TypeVegetation, analysis.TypeDetection}
			job, err := f.dispatcher.Submit(context.Background(), img.Key, types[i%len(types)], nil)
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true

		done := f.waitTerminal(t, id)
		assert.Equal(t, domain.JobStatusCompleted, done.Status, done.Error)
		assert.Equal(t, 1, f.jobs.Writes(id))
	}
}

func TestDispatcher_StartFailsInterruptedJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	img := f.upload(t)

	seed := func(owner domain.JobOwner) *domain.Job {
		job := &domain.Job{
			ID:           domain.NewJobID(time.Now().Add(-time.Hour)),
			ImageID:      img.ID,
			ImageKey:     img.Key,
			AnalysisType: analysis.TypeColor,
			Parameters:   map[string]any{},
			Status:       domain.JobStatusProcessing,
			CreatedAt:    time.Now().Add(-time.Hour).UTC(),
			Owner:        owner,
		}
		f.jobs.Seed(job)
		return job
	}
	stale := seed(domain.JobOwner{Instance: "replica-a", Boot: "earlier-boot"})
	foreign := seed(domain.JobOwner{Instance: "replica-b", Boot: "earlier-boot"})

	// Submitted by this boot before Start, so recovery must leave it alone.
	fresh, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)

	f.start(t)

	recovered, err := f.jobs.GetJob(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, recovered.Status)
	assert.Equal(t, service.InterruptedMessage, recovered.Error)
	assert.True(t, f.cache.Cached(stale.ID))

	untouched, err := f.jobs.GetJob(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, untouched.Status, "jobs of another instance are not ours to fail")

	done := f.waitTerminal(t, fresh.ID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status, done.Error)
}

func TestDispatcher_ReplicaStartLeavesLiveJobsAlone(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	registry := analysis.NewRegistry()
	registry.Register("gated", func() (analysis.Analyzer, error) {
		return analysis.AnalyzerFunc(func(ctx context.Context, _ *pixel.Buffer, _ analysis.Params) (analysis.Result, error) {
			close(started)
			<-release
			return analysis.Result{"done": true}, nil
		}), nil
	})

	f := newFixture(t, testDispatcherConfig(), registry)
	f.start(t)
	img := f.upload(t)

	job, err := f.dispatcher.Submit(context.Background(), img.Key, "gated", nil)
	require.NoError(t, err)
	<-started

	cfg := testDispatcherConfig()
	cfg.InstanceID = "replica-b"
	other := f.newDispatcher(t, cfg, nil)
	require.NoError(t, other.Start(context.Background()))

	live, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, live.Status)

	close(release)
	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status, done.Error)
	assert.Equal(t, 1, f.jobs.Writes(job.ID))
}

func TestDispatcher_RestartFailsOnlyEarlierBoot(t *testing.T) {
	t.Parallel()
	cfg := testDispatcherConfig()
	f := newFixture(t, cfg, nil)
	img := f.upload(t)

	// Never started: its accepted job is what a crash leaves behind.
	crashed, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)

	restarted := f.newDispatcher(t, cfg, nil)
	require.NoError(t, restarted.Start(context.Background()))

	got, err := f.jobs.GetJob(context.Background(), crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, service.InterruptedMessage, got.Error)
}

func TestDispatcher_StartPropagatesRecoveryError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	f.jobs.FailInterruptedJobsFn = func(context.Context, domain.JobOwner, string) ([]string, error) {
		return nil, errors.New("database unavailable")
	}

	err := f.dispatcher.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestDispatcher_TerminalStateIsNeverOverwritten(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	f.start(t)
	img := f.upload(t)

	job, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)
	done := f.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobStatusCompleted, done.Status)

	err = f.jobs.UpdateJobTerminal(context.Background(), store.TerminalUpdate{
		JobID:       job.ID,
		Status:      domain.JobStatusFailed,
		Error:       "late failure",
		CompletedAt: time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrJobAlreadyTerminal)

	after, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, after.Status)
	assert.Empty(t, after.Error)
	assert.Equal(t, 1, f.jobs.Writes(job.ID))
}

// flakyJobStore fails the first failures terminal writes with a connection
// error and counts every attempt.
type flakyJobStore struct {
	*mocks.MockJobStore
	failures atomic.Int32
	attempts atomic.Int32
	err      error
}

func (s *flakyJobStore) UpdateJobTerminal(ctx context.Context, update store.TerminalUpdate) error {
	s.attempts.Add(1)
	if s.failures.Add(-1) >= 0 {
		return s.err
	}
	return s.MockJobStore.UpdateJobTerminal(ctx, update)
}

func TestDispatcher_TerminalWriteIsRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	flaky := &flakyJobStore{MockJobStore: f.jobs, err: errors.New("connection reset")}
	flaky.failures.Store(2)
	d := f.dispatcherOver(t, flaky, testDispatcherConfig(), nil)
	require.NoError(t, d.Start(context.Background()))
	img := f.upload(t)

	job, err := d.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status, done.Error)
	assert.Equal(t, int32(3), flaky.attempts.Load())
	assert.Equal(t, 1, f.jobs.Writes(job.ID))
	assert.Eventually(t, func() bool { return f.cache.Cached(job.ID) }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_TerminalWriteFailureIsContained(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		attempts int32
	}{
		{name: "transient error exhausts retries", err: errors.New("connection reset"), attempts: 4},
		{name: "missing job is not retried", err: store.ErrJobNotFound, attempts: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testDispatcherConfig(), nil)
			flaky := &flakyJobStore{MockJobStore: f.jobs, err: tc.err}
			flaky.failures.Store(1000)
			d := f.dispatcherOver(t, flaky, testDispatcherConfig(), nil)
			require.NoError(t, d.Start(context.Background()))
			img := f.upload(t)

			job, err := d.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
			require.NoError(t, err)

			// Stop waits for the worker, so every attempt has been made.
			d.Stop()
			assert.Equal(t, tc.attempts, flaky.attempts.Load())
			assert.False(t, f.cache.Cached(job.ID))
			_, archived := f.blobs.Get(service.ResultKey(job.ID))
			assert.False(t, archived)
		})
	}
}

// jsonbJobStore stores results with their top-level keys ordered by length,
// then bytes, the way Postgres jsonb returns them.
type jsonbJobStore struct {
	*mocks.MockJobStore
}

func (s jsonbJobStore) UpdateJobTerminal(ctx context.Context, update store.TerminalUpdate) error {
	if len(update.Result) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(update.Result, &fields); err != nil {
			return err
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if len(keys[i]) != len(keys[j]) {
				return len(keys[i]) < len(keys[j])
			}
			return keys[i] < keys[j]
		})
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, _ := json.Marshal(k)
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(fields[k])
		}
		buf.WriteByte('}')
		update.Result = buf.Bytes()
	}
	return s.MockJobStore.UpdateJobTerminal(ctx, update)
}

func TestDispatcher_PublishesResultAsStored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	d := f.dispatcherOver(t, jsonbJobStore{f.jobs}, testDispatcherConfig(), nil)
	require.NoError(t, d.Start(context.Background()))
	img := f.upload(t)

	job, err := d.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)
	stored := f.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobStatusCompleted, stored.Status, stored.Error)
	require.True(t, bytes.HasPrefix(stored.Result, []byte(`{"histograms":`)))

	require.Eventually(t, func() bool { return f.cache.Cached(job.ID) }, time.Second, 5*time.Millisecond)
	cached, ok, err := f.cache.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(stored.Result), string(cached.Result))
}

func TestDispatcher_GetStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)
	f.start(t)
	img := f.upload(t)

	_, err := f.dispatcher.GetStatus(context.Background(), "analysis_missing")
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	job, err := f.dispatcher.Submit(context.Background(), img.Key, analysis.TypeColor, nil)
	require.NoError(t, err)
	f.waitTerminal(t, job.ID)
	require.Eventually(t, func() bool { return f.cache.Cached(job.ID) }, time.Second, 5*time.Millisecond)

	f.jobs.GetJobFn = func(context.Context, string) (*domain.Job, error) {
		return nil, errors.New("database must not be consulted")
	}
	got, err := f.dispatcher.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

func TestDispatcher_ListClampsLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testDispatcherConfig(), nil)

	var got []int
	f.jobs.ListJobsFn = func(_ context.Context, limit int) ([]*domain.Job, error) {
		got = append(got, limit)
		return []*domain.Job{}, nil
	}

	for _, limit := range []int{0, -3, 10, 10_000} {
		_, err := f.dispatcher.List(context.Background(), limit)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{service.DefaultListLimit, service.DefaultListLimit, 10, service.MaxListLimit}, got)

	f.jobs.ListJobsFn = func(context.Context, int) ([]*domain.Job, error) {
		return nil, fmt.Errorf("query failed")
	}
	_, err := f.dispatcher.List(context.Background(), 5)
	assert.Error(t, err)
}
