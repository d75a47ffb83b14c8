package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/storage"
)

type memPhotos struct {
	photos  []models.Photo
	failFor string
}

func (m *memPhotos) CreatePhoto(_ context.Context, userID int64, filePath string) (*models.Photo, error) {
	if m.failFor != "" && filepath.Base(filePath) == m.failFor {
		return nil, errors.New("unique violation")
	}
	p := models.Photo{ID: int64(len(m.photos) + 1), UserID: userID, FilePath: filePath, CreatedAt: time.Now()}
	m.photos = append(m.photos, p)
	return &p, nil
}

func (m *memPhotos) ListPhotoIDs(_ context.Context, userID int64) ([]int64, error) {
	var ids []int64
	for _, p := range m.photos {
		if p.UserID == userID {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

type countingStats struct {
	invalidated map[int64]int
}

func (c *countingStats) Invalidate(_ context.Context, userID int64) error {
	if c.invalidated == nil {
		c.invalidated = map[int64]int{}
	}
	c.invalidated[userID]++
	return nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("data:"+name), 0o644))
	}
}

func newBlobs(t *testing.T) *storage.BlobStore {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return storage.NewBlobStore(context.Background(), nil, local, time.Second)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a.JPG"))
	assert.True(t, IsImage("b.webp"))
	assert.False(t, IsImage("notes.txt"))
	assert.False(t, IsImage("noext"))
}

func TestImportDir(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "a.jpg", "nested/b.png", "readme.md")

	blobs := newBlobs(t)
	photos := &memPhotos{}
	var submitted []int64
	im := New(blobs, photos, func(_ context.Context, id int64) error {
		submitted = append(submitted, id)
		return nil
	})

	sum, err := im.ImportDir(context.Background(), 9, src)
	require.NoError(t, err)
	assert.Equal(t, Summary{Imported: 2, Submitted: 2}, sum)
	assert.Equal(t, []int64{1, 2}, submitted)

	for _, p := range photos.photos {
		assert.Contains(t, p.FilePath, "users/9/")
		data, err := blobs.Get(context.Background(), p.FilePath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "data:")
	}
}

func TestImportFileRemovesBlobWhenRowFails(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "dup.jpg")
	blobs := newBlobs(t)
	im := New(blobs, &memPhotos{failFor: "dup.jpg"}, nil)

	_, err := im.ImportFile(context.Background(), 9, filepath.Join(src, "dup.jpg"))
	require.Error(t, err)

	ok, err := blobs.Exists(context.Background(), storage.PhotoKey(9, "dup.jpg"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImportDirCountsSubmitFailures(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "a.jpg", "b.jpg")
	im := New(newBlobs(t), &memPhotos{}, func(context.Context, int64) error {
		return errors.New("queue down")
	})

	sum, err := im.ImportDir(context.Background(), 1, src)
	require.NoError(t, err)
	assert.Equal(t, Summary{Imported: 2, Failed: 2}, sum)
}

func TestReprocess(t *testing.T) {
	photos := &memPhotos{photos: []models.Photo{{ID: 1, UserID: 5}, {ID: 2, UserID: 6}, {ID: 3, UserID: 5}}}
	var submitted []int64
	im := New(newBlobs(t), photos, func(_ context.Context, id int64) error {
		submitted = append(submitted, id)
		return nil
	})

	sum, err := im.Reprocess(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Submitted)
	assert.Equal(t, []int64{1, 3}, submitted)
}

func TestImportFileInvalidatesStats(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "a.jpg", "dup.jpg")
	stats := &countingStats{}
	im := New(newBlobs(t), &memPhotos{failFor: "dup.jpg"}, nil).WithStats(stats)

	_, err := im.ImportFile(context.Background(), 9, filepath.Join(src, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{9: 1}, stats.invalidated)

	_, err = im.ImportFile(context.Background(), 9, filepath.Join(src, "dup.jpg"))
	require.Error(t, err)
	assert.Equal(t, map[int64]int{9: 1}, stats.invalidated, "a failed import adds no photo")
}
