//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/platform/postgres"
	"github.com/phrazzld/imagelab-api/internal/store"
	"github.com/phrazzld/imagelab-api/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedImage(t *testing.T, tx *sql.Tx) *domain.Image {
	t.Helper()
	key := fmt.Sprintf("20250101_120000_%s.png", uuid.NewString()[:8])
	img, err := domain.NewImage(key, "leaf.png", "uploads/"+key, 2048, 64, 48)
	require.NoError(t, err)
	require.NoError(t, postgres.NewPostgresImageStore(tx, newTestLogger()).CreateImage(context.Background(), img))
	return img
}

func TestIntegration_ImageStore(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		images := postgres.NewPostgresImageStore(tx, newTestLogger())
		img := seedImage(t, tx)

		got, err := images.GetImageByKey(ctx, img.Key)
		require.NoError(t, err)
		assert.Equal(t, img.ID, got.ID)
		assert.Equal(t, img.StoragePath, got.StoragePath)
		assert.Equal(t, "64x48", got.Dimensions())
		assert.WithinDuration(t, img.CreatedAt, got.CreatedAt, time.Millisecond)

		_, err = images.GetImageByKey(ctx, "missing.png")
		assert.ErrorIs(t, err, store.ErrImageNotFound)

		dup := *img
		dup.ID = uuid.New()
		assert.ErrorIs(t, images.CreateImage(ctx, &dup), store.ErrImageExists)
	})
}

func TestIntegration_JobLifecycle(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		jobs := postgres.NewPostgresJobStore(tx, newTestLogger())
		img := seedImage(t, tx)

		job, err := domain.NewJob(img.ID, img.Key, "color_analysis", map[string]any{"threshold": 0.4})
		require.NoError(t, err)
		require.NoError(t, jobs.CreateJob(ctx, job))

		got, err := jobs.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, got.Status)
		assert.Equal(t, 0.4, got.Parameters["threshold"])
		assert.Nil(t, got.CompletedAt)

		done := time.Now()
		require.NoError(t, jobs.UpdateJobTerminal(ctx, store.TerminalUpdate{
			JobID:       job.ID,
			Status:      domain.JobStatusCompleted,
			Result:      json.RawMessage(`{"dominant_color":"green"}`),
			CompletedAt: done,
		}))

		err = jobs.UpdateJobTerminal(ctx, store.TerminalUpdate{
			JobID:       job.ID,
			Status:      domain.JobStatusFailed,
			Error:       "late failure",
			CompletedAt: time.Now(),
		})
		assert.ErrorIs(t, err, store.ErrJobAlreadyTerminal)

		err = jobs.UpdateJobTerminal(ctx, store.TerminalUpdate{
			JobID:       "analysis_missing",
			Status:      domain.JobStatusFailed,
			Error:       "x",
			CompletedAt: time.Now(),
		})
		assert.ErrorIs(t, err, store.ErrJobNotFound)

		got, err = jobs.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.JSONEq(t, `{"dominant_color":"green"}`, string(got.Result))
		assert.Empty(t, got.Error)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, done, *got.CompletedAt, time.Millisecond)
	})
}

func TestIntegration_ListAndFailInterrupted(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		jobs := postgres.NewPostgresJobStore(tx, newTestLogger())
		img := seedImage(t, tx)

		instance := "replica-" + uuid.NewString()
		previous := domain.JobOwner{Instance: instance, Boot: "boot-1"}
		current := domain.JobOwner{Instance: instance, Boot: "boot-2"}

		var created []*domain.Job
		for i := 0; i < 3; i++ {
			job, err := domain.NewJob(img.ID, img.Key, "vegetation_index", nil)
			require.NoError(t, err)
			job.CreatedAt = time.Now().Add(time.Duration(i-10) * time.Minute).UTC()
			job.Owner = previous
			require.NoError(t, jobs.CreateJob(ctx, job))
			created = append(created, job)
		}

		listed, err := jobs.ListJobs(ctx, 500)
		require.NoError(t, err)
		positions := map[string]int{}
		for i, j := range listed {
			positions[j.ID] = i
		}
		assert.Less(t, positions[created[2].ID], positions[created[1].ID])
		assert.Less(t, positions[created[1].ID], positions[created[0].ID])

		live, err := domain.NewJob(img.ID, img.Key, "color_analysis", nil)
		require.NoError(t, err)
		live.Owner = current
		require.NoError(t, jobs.CreateJob(ctx, live))

		foreign, err := domain.NewJob(img.ID, img.Key, "color_analysis", nil)
		require.NoError(t, err)
		foreign.Owner = domain.JobOwner{Instance: "other-" + instance, Boot: "boot-1"}
		require.NoError(t, jobs.CreateJob(ctx, foreign))

		failed, err := jobs.FailInterruptedJobs(ctx, current, "interrupted by service restart")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{created[0].ID, created[1].ID, created[2].ID}, failed)
		for _, job := range created {
			got, err := jobs.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusFailed, got.Status)
			assert.Equal(t, "interrupted by service restart", got.Error)
		}

		for _, id := range []string{live.ID, foreign.ID} {
			got, err := jobs.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusProcessing, got.Status, id)
		}
	})
}

func TestIntegration_JobForUnknownImage(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		jobs := postgres.NewPostgresJobStore(tx, newTestLogger())
		job, err := domain.NewJob(uuid.New(), "ghost.png", "color_analysis", nil)
		require.NoError(t, err)

		err = jobs.CreateJob(context.Background(), job)
		assert.ErrorIs(t, err, store.ErrImageNotFound)
	})
}
