package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// RegionWriter is the transactional view of the face region table handed to
// RecordRegions callbacks. All calls share one transaction.
type RegionWriter interface {
	// FindByGeometry returns the region of photoID with exactly rect, or nil.
	FindByGeometry(ctx context.Context, photoID int64, rect models.Rect) (*models.FaceRegion, error)
	// Insert stores region and fills its ID. It reports false when a region
	// with the same geometry already exists for the photo.
	Insert(ctx context.Context, region *models.FaceRegion) (bool, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Photos ---

func (s *PostgresStore) CreatePhoto(ctx context.Context, userID int64, filePath string) (*models.Photo, error) {
	p := &models.Photo{UserID: userID, FilePath: filePath}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (user_id, file_path) VALUES ($1, $2) RETURNING id, created_at`,
		userID, filePath,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, id int64) (*models.Photo, error) {
	p := &models.Photo{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, file_path, created_at FROM photos WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.FilePath, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// ListPhotoIDs returns the ids of every photo owned by userID, oldest first.
func (s *PostgresStore) ListPhotoIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM photos WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan photo id: %w", err)
	}
	return ids, nil
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, userID int64, name string) (*models.Person, error) {
	p := &models.Person{UserID: userID, Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (user_id, name) VALUES ($1, $2) RETURNING id, created_at`,
		userID, name,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, created_at FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// --- Face regions ---

const regionColumns = `id, photo_id, person_id, x, y, width, height, confidence, verified, created_at, updated_at`

func scanRegion(row pgx.Row) (*models.FaceRegion, error) {
	r := &models.FaceRegion{}
	err := row.Scan(&r.ID, &r.PhotoID, &r.PersonID,
		&r.Rect.X, &r.Rect.Y, &r.Rect.Width, &r.Rect.Height,
		&r.Confidence, &r.Verified, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) GetRegion(ctx context.Context, id int64) (*models.FaceRegion, error) {
	r, err := scanRegion(s.pool.QueryRow(ctx,
		`SELECT `+regionColumns+` FROM face_regions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get face region: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRegions(ctx context.Context, photoID int64) ([]models.FaceRegion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+regionColumns+` FROM face_regions WHERE photo_id = $1 ORDER BY id`, photoID)
	if err != nil {
		return nil, fmt.Errorf("list face regions: %w", err)
	}
	defer rows.Close()

	var regions []models.FaceRegion
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face region: %w", err)
		}
		regions = append(regions, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list face regions: %w", err)
	}
	return regions, nil
}

// RecordRegions runs fn inside one transaction holding a per-photo advisory
// lock, so concurrent runs for the same photo are serialized. The transaction
// is committed only if fn returns nil.
func (s *PostgresStore) RecordRegions(ctx context.Context, photoID int64, fn func(RegionWriter) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, photoID); err != nil {
		return fmt.Errorf("lock photo %d: %w", photoID, err)
	}

	if err := fn(&regionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit face regions: %w", err)
	}
	return nil
}

// UpdateRegionIdentity sets the person and verification flag of a region in a
// single statement. It returns nil when the region does not exist.
func (s *PostgresStore) UpdateRegionIdentity(ctx context.Context, regionID, personID int64, verified bool) (*models.FaceRegion, error) {
	r, err := scanRegion(s.pool.QueryRow(ctx,
		`UPDATE face_regions SET person_id = $2, verified = $3, updated_at = now()
		 WHERE id = $1 RETURNING `+regionColumns,
		regionID, personID, verified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update face region identity: %w", err)
	}
	return r, nil
}

// CountsByUser aggregates face statistics over the photos and persons of one user.
func (s *PostgresStore) CountsByUser(ctx context.Context, userID int64) (*models.FaceCounts, error) {
	c := &models.FaceCounts{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM photos WHERE user_id = $1),
			(SELECT COUNT(DISTINCT fr.photo_id)
			   FROM face_regions fr JOIN photos p ON p.id = fr.photo_id
			  WHERE p.user_id = $1),
			(SELECT COUNT(*) FILTER (WHERE fr.verified)
			   FROM face_regions fr JOIN photos p ON p.id = fr.photo_id
			  WHERE p.user_id = $1),
			(SELECT COUNT(*) FILTER (WHERE NOT fr.verified)
			   FROM face_regions fr JOIN photos p ON p.id = fr.photo_id
			  WHERE p.user_id = $1),
			(SELECT COUNT(*) FROM persons WHERE user_id = $1)`,
		userID,
	).Scan(&c.TotalPhotos, &c.PhotosWithFaces, &c.VerifiedTags, &c.UnverifiedTags, &c.UniquePeople)
	if err != nil {
		return nil, fmt.Errorf("count face stats: %w", err)
	}
	return c, nil
}

type regionTx struct {
	tx pgx.Tx
}

func (t *regionTx) FindByGeometry(ctx context.Context, photoID int64, rect models.Rect) (*models.FaceRegion, error) {
	r, err := scanRegion(t.tx.QueryRow(ctx,
		`SELECT `+regionColumns+` FROM face_regions
		 WHERE photo_id = $1 AND x = $2 AND y = $3 AND width = $4 AND height = $5`,
		photoID, rect.X, rect.Y, rect.Width, rect.Height))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find face region: %w", err)
	}
	return r, nil
}

func (t *regionTx) Insert(ctx context.Context, region *models.FaceRegion) (bool, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO face_regions (photo_id, person_id, x, y, width, height, confidence, verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT ON CONSTRAINT face_regions_geometry_key DO NOTHING
		 RETURNING id, created_at, updated_at`,
		region.PhotoID, region.PersonID,
		region.Rect.X, region.Rect.Y, region.Rect.Width, region.Rect.Height,
		region.Confidence, region.Verified,
	).Scan(&region.ID, &region.CreatedAt, &region.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert face region: %w", err)
	}
	return true, nil
}
