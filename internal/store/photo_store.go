package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/rideshare/internal/domain"
)

// PhotoStore records which stored preview currently backs each angle of a
// capture set. There is at most one row per (set, angle).
type PhotoStore struct {
	db *sql.DB
}

func NewPhotoStore(db *sql.DB) *PhotoStore {
	return &PhotoStore{db: db}
}

const photoColumns = `set_id, angle, storage_key, mime_type, size_bytes, width, height, captured_at`

// angleOrder sorts rows front, back, left, right.
const angleOrder = `CASE angle WHEN 'front' THEN 0 WHEN 'back' THEN 1 WHEN 'left' THEN 2 ELSE 3 END`

// Upsert stores p, replacing any earlier photo for the same angle.
func (s *PhotoStore) Upsert(ctx context.Context, p *domain.CapturedPhoto) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captured_photos (`+photoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (set_id, angle) DO UPDATE SET
			storage_key = excluded.storage_key,
			mime_type   = excluded.mime_type,
			size_bytes  = excluded.size_bytes,
			width       = excluded.width,
			height      = excluded.height,
			captured_at = excluded.captured_at
	`, p.SetID, p.Angle, p.StorageKey, p.MimeType, p.SizeBytes, p.Width, p.Height, p.CapturedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store captured photo: %w", err)
	}
	return nil
}

func (s *PhotoStore) Get(ctx context.Context, setID, angle string) (*domain.CapturedPhoto, error) {
	p := &domain.CapturedPhoto{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+photoColumns+` FROM captured_photos WHERE set_id = ? AND angle = ?
	`, setID, angle).Scan(&p.SetID, &p.Angle, &p.StorageKey, &p.MimeType, &p.SizeBytes, &p.Width, &p.Height, &p.CapturedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get captured photo: %w", err)
	}

	return p, nil
}

func (s *PhotoStore) ListBySetID(ctx context.Context, setID string) ([]*domain.CapturedPhoto, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+photoColumns+` FROM captured_photos WHERE set_id = ? ORDER BY `+angleOrder, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to list captured photos: %w", err)
	}
	defer rows.Close()

	var photos []*domain.CapturedPhoto
	for rows.Next() {
		p := &domain.CapturedPhoto{}
		if err := rows.Scan(&p.SetID, &p.Angle, &p.StorageKey, &p.MimeType, &p.SizeBytes, &p.Width, &p.Height, &p.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan captured photo: %w", err)
		}
		photos = append(photos, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating captured photos: %w", err)
	}

	return photos, nil
}

// Delete removes the photo for one angle and returns it so the caller can
// clean up its file. It returns nil when there was nothing to delete.
func (s *PhotoStore) Delete(ctx context.Context, setID, angle string) (*domain.CapturedPhoto, error) {
	p, err := s.Get(ctx, setID, angle)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM captured_photos WHERE set_id = ? AND angle = ?
	`, setID, angle)
	if err != nil {
		return nil, fmt.Errorf("failed to delete captured photo: %w", err)
	}

	return p, nil
}

// DeleteBySetID removes every photo of a capture set and returns them.
func (s *PhotoStore) DeleteBySetID(ctx context.Context, setID string) ([]*domain.CapturedPhoto, error) {
	photos, err := s.ListBySetID(ctx, setID)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM captured_photos WHERE set_id = ?
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete captured photos: %w", err)
	}

	return photos, nil
}
