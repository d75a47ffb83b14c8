package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/your-org/photovault/internal/observability"
)

// ObjectStore is the key/value blob contract shared by the remote and local stores.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RemoteStore is an ObjectStore that can be probed for reachability.
type RemoteStore interface {
	ObjectStore
	Ping(ctx context.Context) error
}

// BlobStore persists photo files to a remote object store and degrades to a
// local directory when the remote was unreachable at construction time.
// Reads consult the remote first (when available) and then the local store,
// so files written during an outage remain readable.
type BlobStore struct {
	remote    RemoteStore
	local     ObjectStore
	available bool
}

// NewBlobStore probes remote once; a nil remote or a failed probe leaves the
// store in local-only mode for its lifetime.
func NewBlobStore(ctx context.Context, remote RemoteStore, local ObjectStore, probeTimeout time.Duration) *BlobStore {
	b := &BlobStore{remote: remote, local: local}
	if remote == nil {
		slog.Info("object storage not configured, using local fallback")
		return b
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := remote.Ping(probeCtx); err != nil {
		slog.Warn("object storage unreachable, using local fallback", "error", err)
		return b
	}

	b.available = true
	slog.Info("object storage is available")
	return b
}

// RemoteAvailable reports whether the remote store passed its probe.
func (b *BlobStore) RemoteAvailable() bool {
	return b.available
}

// Ping checks the remote store when it is in use. A store built without a
// remote is always healthy.
func (b *BlobStore) Ping(ctx context.Context) error {
	if b.remote == nil {
		return nil
	}
	if !b.available {
		return errors.New("object storage unavailable, serving from local fallback")
	}
	return b.remote.Ping(ctx)
}

// PhotoKey builds the storage path for an uploaded file.
func PhotoKey(userID int64, filename string) string {
	name := path.Base("/" + filename)
	if userID > 0 {
		return path.Join("users", strconv.FormatInt(userID, 10), name)
	}
	return path.Join("uploads", name)
}

// Put stores data for a user's file and returns its storage path.
func (b *BlobStore) Put(ctx context.Context, userID int64, filename string, data []byte, contentType string) (string, error) {
	key := PhotoKey(userID, filename)
	if b.available {
		err := b.remote.Put(ctx, key, data, contentType)
		if err == nil {
			return key, nil
		}
		slog.Error("upload to object storage failed, writing locally", "key", key, "error", err)
	}

	observability.BlobFallbacks.WithLabelValues("put").Inc()
	if err := b.local.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return key, nil
}

// Get returns the bytes stored under key.
func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if b.available {
		data, err := b.remote.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotExist) {
			slog.Warn("download from object storage failed", "key", key, "error", err)
		}
	}

	data, err := b.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	observability.BlobFallbacks.WithLabelValues("get").Inc()
	return data, nil
}

// Exists reports whether key is stored remotely or locally.
func (b *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	if b.available {
		ok, err := b.remote.Exists(ctx, key)
		if err != nil {
			slog.Warn("check object existence failed", "key", key, "error", err)
		} else if ok {
			return true, nil
		}
	}
	return b.local.Exists(ctx, key)
}

// Delete removes key from every store that may hold it.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	var errs []error
	if b.available {
		if err := b.remote.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.local.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
