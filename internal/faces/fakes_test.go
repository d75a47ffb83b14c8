package faces

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/internal/vision"
)

// memStore is an in-memory Store. RecordRegions holds a store-wide lock and
// applies the callback's writes only when it returns nil.
type memStore struct {
	mu      sync.Mutex
	recMu   sync.Mutex
	photos  map[int64]*models.Photo
	persons map[int64]*models.Person
	regions map[int64]*models.FaceRegion
	nextID  int64

	failInsertAfter int // fail the n-th insert of a batch when > 0
	countsErr       error
	afterCounts     func() // runs after counts are computed, before they are returned
	writes          int
}

func newMemStore() *memStore {
	return &memStore{
		photos:  map[int64]*models.Photo{},
		persons: map[int64]*models.Person{},
		regions: map[int64]*models.FaceRegion{},
	}
}

func (m *memStore) addPhoto(id, userID int64, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[id] = &models.Photo{ID: id, UserID: userID, FilePath: path}
}

func (m *memStore) addPerson(id, userID int64, name string) {
	m.persons[id] = &models.Person{ID: id, UserID: userID, Name: name}
}

func (m *memStore) GetPhoto(_ context.Context, id int64) (*models.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPerson(_ context.Context, id int64) (*models.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetRegion(_ context.Context, id int64) (*models.FaceRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRegions(_ context.Context, photoID int64) ([]models.FaceRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FaceRegion
	for _, r := range m.regions {
		if r.PhotoID == photoID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RecordRegions(ctx context.Context, photoID int64, fn func(storage.RegionWriter) error) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range tx.pending {
		m.nextID++
		r.ID = m.nextID
		m.regions[r.ID] = r
		m.writes++
	}
	return nil
}

func (m *memStore) UpdateRegionIdentity(_ context.Context, regionID, personID int64, verified bool) (*models.FaceRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[regionID]
	if !ok {
		return nil, nil
	}
	r.PersonID = &personID
	r.Verified = verified
	r.UpdatedAt = time.Now()
	m.writes++
	cp := *r
	return &cp, nil
}

func (m *memStore) CountsByUser(_ context.Context, userID int64) (*models.FaceCounts, error) {
	c, err := m.countsByUser(userID)
	if err == nil && m.afterCounts != nil {
		m.afterCounts()
	}
	return c, err
}

func (m *memStore) countsByUser(userID int64) (*models.FaceCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countsErr != nil {
		return nil, m.countsErr
	}
	c := &models.FaceCounts{}
	withFaces := map[int64]bool{}
	for _, p := range m.photos {
		if p.UserID == userID {
			c.TotalPhotos++
		}
	}
	for _, r := range m.regions {
		p := m.photos[r.PhotoID]
		if p == nil || p.UserID != userID {
			continue
		}
		withFaces[r.PhotoID] = true
		if r.Verified {
			c.VerifiedTags++
		} else {
			c.UnverifiedTags++
		}
	}
	c.PhotosWithFaces = len(withFaces)
	for _, p := range m.persons {
		if p.UserID == userID {
			c.UniquePeople++
		}
	}
	return c, nil
}

func (m *memStore) regionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

type memTx struct {
	store   *memStore
	pending []*models.FaceRegion
	inserts int
}

func sameGeometry(r *models.FaceRegion, photoID int64, rect models.Rect) bool {
	return r.PhotoID == photoID && r.Rect == rect
}

func (t *memTx) FindByGeometry(_ context.Context, photoID int64, rect models.Rect) (*models.FaceRegion, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, r := range t.store.regions {
		if sameGeometry(r, photoID, rect) {
			cp := *r
			return &cp, nil
		}
	}
	for _, r := range t.pending {
		if sameGeometry(r, photoID, rect) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) Insert(_ context.Context, region *models.FaceRegion) (bool, error) {
	t.inserts++
	if t.store.failInsertAfter > 0 && t.inserts >= t.store.failInsertAfter {
		return false, errors.New("connection reset")
	}
	cp := *region
	t.pending = append(t.pending, &cp)
	return true, nil
}

type memFiles map[string]bool

func (f memFiles) Exists(_ context.Context, path string) (bool, error) {
	return f[path], nil
}

type fakeDetector struct {
	available bool
	faces     map[string][]vision.Candidate
	err       error
	calls     atomic.Int32
}

func (d *fakeDetector) Available() bool { return d.available }

func (d *fakeDetector) Detect(_ context.Context, path string) ([]vision.Candidate, error) {
	d.calls.Add(1)
	if !d.available {
		return nil, vision.ErrUnavailable
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.faces[path], nil
}

func (d *fakeDetector) DetectFaces(ctx context.Context, path string) []vision.Candidate {
	faces, err := d.Detect(ctx, path)
	if err != nil || faces == nil {
		return []vision.Candidate{}
	}
	return faces
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishFaceEvent(ctx context.Context, event models.FaceEvent) error {
	return m.Called(ctx, event).Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, userID int64) (*models.FaceCounts, int64, error) {
	args := m.Called(ctx, userID)
	counts, _ := args.Get(0).(*models.FaceCounts)
	gen, _ := args.Get(1).(int64)
	return counts, gen, args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, userID, generation int64, counts *models.FaceCounts) error {
	return m.Called(ctx, userID, generation, counts).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

// memCache mirrors the generation handling of cache.StatsCache.
type memCache struct {
	mu      sync.Mutex
	gens    map[int64]int64
	entries map[int64]memEntry
}

type memEntry struct {
	gen    int64
	counts models.FaceCounts
}

func newMemCache() *memCache {
	return &memCache{gens: map[int64]int64{}, entries: map[int64]memEntry{}}
}

func (c *memCache) Get(_ context.Context, userID int64) (*models.FaceCounts, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[userID]
	e, ok := c.entries[userID]
	if !ok || e.gen != gen {
		return nil, gen, nil
	}
	counts := e.counts
	return &counts, gen, nil
}

func (c *memCache) Set(_ context.Context, userID, generation int64, counts *models.FaceCounts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = memEntry{gen: generation, counts: *counts}
	return nil
}

func (c *memCache) Invalidate(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[userID]++
	delete(c.entries, userID)
	return nil
}
