//go:build integration

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/models"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	var portNum int
	_, err = fmt.Sscanf(port.Port(), "%d", &portNum)
	require.NoError(t, err)

	store, err := NewPostgresStore(config.DatabaseConfig{
		Host: host, Port: portNum, Name: "testdb", User: "test", Password: "test", MaxConns: 10,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be idempotent")
	return store
}

func record(t *testing.T, s *PostgresStore, photoID int64, rects ...models.Rect) int {
	t.Helper()
	inserted := 0
	err := s.RecordRegions(context.Background(), photoID, func(w RegionWriter) error {
		for _, r := range rects {
			existing, err := w.FindByGeometry(context.Background(), photoID, r)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			ok, err := w.Insert(context.Background(), &models.FaceRegion{PhotoID: photoID, Rect: r, Confidence: 0.8})
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	require.NoError(t, err)
	return inserted
}

func TestPostgresRegionLifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	photo, err := s.CreatePhoto(ctx, 1, "users/1/p.jpg")
	require.NoError(t, err)
	person, err := s.CreatePerson(ctx, 1, "Ada")
	require.NoError(t, err)

	a := models.Rect{X: 10, Y: 10, Width: 50, Height: 50}
	b := models.Rect{X: 100, Y: 10, Width: 50, Height: 50}

	assert.Equal(t, 2, record(t, s, photo.ID, a, b))
	assert.Equal(t, 0, record(t, s, photo.ID, a, b), "reprocessing must not duplicate regions")

	regions, err := s.ListRegions(ctx, photo.ID)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Nil(t, regions[0].PersonID)
	assert.False(t, regions[0].Verified)
	assert.InDelta(t, 0.8, regions[0].Confidence, 1e-6)

	tagged, err := s.UpdateRegionIdentity(ctx, regions[0].ID, person.ID, true)
	require.NoError(t, err)
	require.NotNil(t, tagged)
	require.NotNil(t, tagged.PersonID)
	assert.Equal(t, person.ID, *tagged.PersonID)
	assert.True(t, tagged.Verified)

	missing, err := s.UpdateRegionIdentity(ctx, 999999, person.ID, true)
	require.NoError(t, err)
	assert.Nil(t, missing)

	counts, err := s.CountsByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.FaceCounts{
		TotalPhotos: 1, PhotosWithFaces: 1, VerifiedTags: 1, UnverifiedTags: 1, UniquePeople: 1,
	}, *counts)

	empty, err := s.CountsByUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.FaceCounts{}, *empty)
}

func TestPostgresRecordRegionsRollsBack(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	photo, err := s.CreatePhoto(ctx, 1, "users/1/p.jpg")
	require.NoError(t, err)

	err = s.RecordRegions(ctx, photo.ID, func(w RegionWriter) error {
		if _, err := w.Insert(ctx, &models.FaceRegion{PhotoID: photo.ID, Rect: models.Rect{X: 1, Y: 1, Width: 40, Height: 40}}); err != nil {
			return err
		}
		return fmt.Errorf("simulated failure")
	})
	require.Error(t, err)

	regions, err := s.ListRegions(ctx, photo.ID)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestPostgresConcurrentRecordRegions(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	photo, err := s.CreatePhoto(ctx, 1, "users/1/p.jpg")
	require.NoError(t, err)
	rect := models.Rect{X: 5, Y: 5, Width: 60, Height: 60}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RecordRegions(ctx, photo.ID, func(w RegionWriter) error {
				_, err := w.Insert(ctx, &models.FaceRegion{PhotoID: photo.ID, Rect: rect, Confidence: 0.8})
				return err
			})
		}()
	}
	wg.Wait()

	regions, err := s.ListRegions(ctx, photo.ID)
	require.NoError(t, err)
	assert.Len(t, regions, 1)
}

func TestPostgresRejectsVerifiedWithoutPerson(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	photo, err := s.CreatePhoto(ctx, 1, "users/1/p.jpg")
	require.NoError(t, err)

	err = s.RecordRegions(ctx, photo.ID, func(w RegionWriter) error {
		_, err := w.Insert(ctx, &models.FaceRegion{PhotoID: photo.ID, Rect: models.Rect{Width: 30, Height: 30}, Verified: true})
		return err
	})
	assert.Error(t, err)
}
