package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRemote is an in-memory RemoteStore.
type memRemote struct {
	objects map[string][]byte
	pingErr error
	putErr  error
}

func newMemRemote() *memRemote {
	return &memRemote{objects: map[string][]byte{}}
}

func (m *memRemote) Ping(context.Context) error { return m.pingErr }

func (m *memRemote) Put(_ context.Context, key string, data []byte, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	return nil
}

func (m *memRemote) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotExist
	}
	return data, nil
}

func (m *memRemote) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memRemote) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return local
}

func TestPhotoKey(t *testing.T) {
	assert.Equal(t, "users/7/cat.jpg", PhotoKey(7, "cat.jpg"))
	assert.Equal(t, "uploads/cat.jpg", PhotoKey(0, "cat.jpg"))
	assert.Equal(t, "users/7/passwd", PhotoKey(7, "../../etc/passwd"))
}

func TestBlobStoreUsesRemoteWhenAvailable(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := newLocal(t)
	b := NewBlobStore(ctx, remote, local, time.Second)
	require.True(t, b.RemoteAvailable())

	key, err := b.Put(ctx, 3, "a.jpg", []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "users/3/a.jpg", key)
	assert.Contains(t, remote.objects, key)

	ok, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "remote writes must not touch the local store")

	data, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func TestBlobStoreFallsBackWhenProbeFails(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	remote.pingErr = errors.New("connection refused")
	local := newLocal(t)

	b := NewBlobStore(ctx, remote, local, time.Second)
	require.False(t, b.RemoteAvailable())
	assert.Error(t, b.Ping(ctx))

	key, err := b.Put(ctx, 3, "a.jpg", []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Empty(t, remote.objects)

	ok, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func TestBlobStoreWithoutRemote(t *testing.T) {
	b := NewBlobStore(context.Background(), nil, newLocal(t), time.Second)
	assert.False(t, b.RemoteAvailable())
	assert.NoError(t, b.Ping(context.Background()))
}

func TestBlobStorePutFallsBackOnRemoteError(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := newLocal(t)
	b := NewBlobStore(ctx, remote, local, time.Second)
	remote.putErr = errors.New("bucket quota exceeded")

	key, err := b.Put(ctx, 1, "b.png", []byte("png"), "image/png")
	require.NoError(t, err)

	ok, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	// Readable through the blob store although the remote does not have it.
	data, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestBlobStoreMissing(t *testing.T) {
	ctx := context.Background()
	b := NewBlobStore(ctx, newMemRemote(), newLocal(t), time.Second)

	ok, err := b.Exists(ctx, "users/1/none.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.Get(ctx, "users/1/none.jpg")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestBlobStoreDelete(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := newLocal(t)
	b := NewBlobStore(ctx, remote, local, time.Second)

	require.NoError(t, local.Put(ctx, "users/1/x.jpg", []byte("x"), ""))
	remote.objects["users/1/x.jpg"] = []byte("x")

	require.NoError(t, b.Delete(ctx, "users/1/x.jpg"))
	ok, err := b.Exists(ctx, "users/1/x.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStoreRejectsEmptyKey(t *testing.T) {
	local := newLocal(t)
	_, err := local.Get(context.Background(), "")
	assert.ErrorContains(t, err, "invalid blob key")
}

func TestLocalStoreKeepsKeysInsideRoot(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)

	require.NoError(t, local.Put(ctx, "../../outside.jpg", []byte("x"), ""))
	ok, err := local.Exists(ctx, "outside.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}
