// internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"flipcut/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

const uniqueViolation = "23505"

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

const imageColumns = `image_id, user_id, original_filename, original_mime_type, original_size_bytes,
	 original_width, original_height, status, provider, original_url, original_public_id,
	 processed_url, processed_public_id, error_message, created_at, updated_at`

func scanImage(row pgx.Row) (*models.ImageAsset, error) {
	var img models.ImageAsset
	err := row.Scan(&img.ImageID, &img.UserID, &img.OriginalFilename, &img.OriginalMimeType,
		&img.OriginalSizeBytes, &img.OriginalWidth, &img.OriginalHeight, &img.Status,
		&img.Provider, &img.OriginalURL, &img.OriginalPublicID, &img.ProcessedURL,
		&img.ProcessedPublicID, &img.ErrorMessage, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *Storage) CreateImage(ctx context.Context, img *models.ImageAsset) error {
	const op = "storage.CreateImage"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO images (`+imageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		img.ImageID, img.UserID, img.OriginalFilename, img.OriginalMimeType,
		img.OriginalSizeBytes, img.OriginalWidth, img.OriginalHeight, img.Status,
		img.Provider, img.OriginalURL, img.OriginalPublicID, img.ProcessedURL,
		img.ProcessedPublicID, img.ErrorMessage, img.CreatedAt, img.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// GetImage scopes the lookup by owner inside the predicate so a foreign
// image_id is indistinguishable from a missing one.
func (s *Storage) GetImage(ctx context.Context, userID, imageID string) (*models.ImageAsset, error) {
	const op = "storage.GetImage"

	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE image_id = $1 AND user_id = $2`,
		imageID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return img, nil
}

func (s *Storage) ListActiveImages(ctx context.Context, userID string, limit int) ([]models.ImageAsset, error) {
	const op = "storage.ListActiveImages"

	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images
		 WHERE user_id = $1 AND status <> $2
		 ORDER BY created_at DESC LIMIT $3`,
		userID, models.StatusDeleted, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	items := make([]models.ImageAsset, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		items = append(items, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return items, nil
}

// Columns UpdateImageFields may touch. image_id and user_id are
// deliberately absent; updated_at is bumped unconditionally.
var updatableColumns = map[string]bool{
	"status":              true,
	"processed_url":       true,
	"processed_public_id": true,
	"error_message":       true,
}

func (s *Storage) UpdateImageFields(ctx context.Context, userID, imageID string, fields map[string]any) error {
	const op = "storage.UpdateImageFields"

	if len(fields) == 0 {
		return fmt.Errorf("%s: no fields to update", op)
	}

	set := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for col, val := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("%s: column %q is not updatable", op, col)
		}
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	set = append(set, "updated_at = now()")

	args = append(args, imageID, userID)
	query := fmt.Sprintf(`UPDATE images SET %s WHERE image_id = $%d AND user_id = $%d`,
		strings.Join(set, ", "), len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ClaimProcessing is the single serialization point of the pipeline: a
// conditional update that only succeeds from UPLOADED or FAILED. Of two
// concurrent process requests exactly one sees RowsAffected == 1.
func (s *Storage) ClaimProcessing(ctx context.Context, userID, imageID string) (bool, error) {
	const op = "storage.ClaimProcessing"

	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET status = $1, error_message = NULL, updated_at = now()
		 WHERE image_id = $2 AND user_id = $3 AND status = ANY($4)`,
		models.StatusProcessing, imageID, userID,
		[]string{string(models.StatusUploaded), string(models.StatusFailed)})
	if err != nil {
		return false, fmt.Errorf("%s: %v", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) SoftDeleteImage(ctx context.Context, userID, imageID string) error {
	const op = "storage.SoftDeleteImage"

	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET status = $1, updated_at = now()
		 WHERE image_id = $2 AND user_id = $3`,
		models.StatusDeleted, imageID, userID)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
