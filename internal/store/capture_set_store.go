package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/rideshare/internal/domain"
)

type CaptureSetStore struct {
	db *sql.DB
}

func NewCaptureSetStore(db *sql.DB) *CaptureSetStore {
	return &CaptureSetStore{db: db}
}

func (s *CaptureSetStore) Create(ctx context.Context, id, kind, targetID string) (*domain.CaptureSet, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_sets (id, kind, target_id, status) VALUES (?, ?, ?, ?)
	`, id, kind, targetID, domain.CaptureSetOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture set: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *CaptureSetStore) GetByID(ctx context.Context, id string) (*domain.CaptureSet, error) {
	set := &domain.CaptureSet{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, target_id, status, created_at, updated_at FROM capture_sets WHERE id = ?
	`, id).Scan(&set.ID, &set.Kind, &set.TargetID, &set.Status, &set.CreatedAt, &set.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture set: %w", err)
	}

	return set, nil
}

// List returns capture sets newest first. An empty status lists all of them.
func (s *CaptureSetStore) List(ctx context.Context, status string) ([]*domain.CaptureSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target_id, status, created_at, updated_at FROM capture_sets
		WHERE ? = '' OR status = ?
		ORDER BY created_at DESC, id ASC
	`, status, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture sets: %w", err)
	}
	defer rows.Close()

	var sets []*domain.CaptureSet
	for rows.Next() {
		set := &domain.CaptureSet{}
		if err := rows.Scan(&set.ID, &set.Kind, &set.TargetID, &set.Status, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capture set: %w", err)
		}
		sets = append(sets, set)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capture sets: %w", err)
	}

	return sets, nil
}

func (s *CaptureSetStore) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE capture_sets SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update capture set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("capture set not found")
	}

	return nil
}
