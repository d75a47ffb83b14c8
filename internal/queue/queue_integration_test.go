//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/photovault/internal/models"
)

func setupNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestProcessTasksAreDeduplicatedAndConsumed(t *testing.T) {
	url := setupNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := NewProducer(url)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureStreams(ctx))
	require.NoError(t, producer.Ping(ctx))

	task := models.ProcessTask{ID: uuid.New(), PhotoID: 5, RequestedAt: time.Now()}
	dup, err := producer.PublishProcess(ctx, task)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = producer.PublishProcess(ctx, task)
	require.NoError(t, err)
	assert.True(t, dup, "second request inside the window must be dropped")

	depth, err := producer.QueueDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	consumer, err := NewConsumer(url)
	require.NoError(t, err)
	defer consumer.Close()

	got := make(chan models.ProcessTask, 1)
	require.NoError(t, consumer.ConsumeTasks(ctx, "test-worker", func(_ context.Context, task models.ProcessTask) error {
		got <- task
		return nil
	}, 2))

	select {
	case task := <-got:
		assert.Equal(t, int64(5), task.PhotoID)
	case <-ctx.Done():
		t.Fatal("task was not delivered")
	}
}
