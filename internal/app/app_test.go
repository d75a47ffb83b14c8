package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/vision"
)

func TestEngineLoader(t *testing.T) {
	assert.Nil(t, EngineLoader(config.DetectionConfig{Engine: config.EngineDisabled}))

	retina := EngineLoader(config.DetectionConfig{Engine: config.EngineRetinaFace, ModelsDir: t.TempDir()})
	require.NotNil(t, retina)
	_, err := retina()
	assert.Error(t, err, "missing model file must fail the load")
}

func TestOpenBlobStoreLocalOnly(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{LocalDir: t.TempDir(), ProbeTimeout: time.Second}}

	blobs, err := OpenBlobStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, blobs.RemoteAvailable())

	key, err := blobs.Put(context.Background(), 3, "a.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	ok, err := blobs.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenStatsCacheDisabled(t *testing.T) {
	assert.Nil(t, OpenStatsCache(context.Background(), config.RedisConfig{}))
}

func TestNewFaceServiceWithDisabledEngine(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{LocalDir: t.TempDir(), ProbeTimeout: time.Second}}
	blobs, err := OpenBlobStore(context.Background(), cfg)
	require.NoError(t, err)

	svc, det := NewFaceService(config.DetectionConfig{Engine: config.EngineDisabled, MaxConcurrent: 1}, nil, blobs, nil, nil)
	assert.False(t, det.Available())
	assert.False(t, svc.DetectionAvailable())
	assert.Equal(t, []vision.Candidate{}, svc.DetectFaces(context.Background(), "users/3/a.jpg"))
}
