package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/adityamenon/scanforge/internal/cache"
	"github.com/adityamenon/scanforge/pkg/models"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestJobProgress_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	snap := cache.ProgressSnapshot{
		Status:   models.JobStatusInProgress,
		Stage:    "dependency_audit",
		Progress: 40,
	}
	require.NoError(t, rc.SetJobProgress(ctx, jobID, snap, time.Minute))

	got, found, err := rc.GetJobProgress(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap, got)
}

func TestJobProgress_Miss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	_, found, err := rc.GetJobProgress(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobProgress_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	snap := cache.ProgressSnapshot{Status: models.JobStatusPending}
	require.NoError(t, rc.SetJobProgress(ctx, jobID, snap, time.Minute))
	require.NoError(t, rc.DeleteJobProgress(ctx, jobID))

	_, found, err := rc.GetJobProgress(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobProgress_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	snap := cache.ProgressSnapshot{Status: models.JobStatusCompleted, Progress: 100}
	require.NoError(t, rc.SetJobProgress(ctx, jobID, snap, 100*time.Millisecond))

	time.Sleep(200 * time.Millisecond)

	_, found, err := rc.GetJobProgress(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("sf_test1")

	for want := int64(1); want <= 3; want++ {
		count, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}
}
