package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/dockworker/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	job, err := s.Create(ctx, Job{
		Source:        "ubuntu:20.04",
		Target:        "ubuntu:20.04",
		DistinctID:    "a1b2c3",
		RepoURL:       "registry.example.com",
		RepoNamespace: "mirror",
	})
	require.NoError(t, err)
	assert.NotZero(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)

	clock = clock.Add(time.Second)
	require.NoError(t, s.Start(ctx, job.ID, 11, "Image Pusher", 900, 20))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, int64(20), got.RunNumber)
	assert.Equal(t, int64(900), got.RunID)
	assert.Equal(t, "Image Pusher", got.WorkflowName)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	require.NoError(t, s.Finish(ctx, job.ID, StatusCompleted, "registry.example.com/mirror/ubuntu:20.04", ""))
	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "registry.example.com/mirror/ubuntu:20.04", got.FullURL)
	assert.Equal(t, "mirror", got.RepoNamespace)
}

func TestStoreFinishRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job, err := s.Create(ctx, Job{Source: "nginx", Target: "nginx", DistinctID: "ffffff"})
	require.NoError(t, err)

	assert.Error(t, s.Finish(ctx, job.ID, StatusRunning, "", ""))
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Finish(context.Background(), 42, StatusFailed, "", "boom"), ErrNotFound)
}

func TestStoreCreateValidates(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), Job{Target: "x"})
	assert.Error(t, err)
}

func TestStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, src := range []string{"alpine", "nginx", "redis"} {
		_, err := s.Create(ctx, Job{Source: src, Target: src, DistinctID: "id" + src})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "redis", all[0].Source)
	assert.Equal(t, "alpine", all[2].Source)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
