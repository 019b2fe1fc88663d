package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/rideshare/internal/domain"
)

type SubmissionStore struct {
	db *sql.DB
}

func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) Create(ctx context.Context, sub *domain.Submission) (*domain.Submission, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (set_id, kind, target_id, vehicle_id, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sub.SetID, sub.Kind, sub.TargetID, sub.VehicleID, sub.Status, sub.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *SubmissionStore) GetByID(ctx context.Context, id int64) (*domain.Submission, error) {
	sub := &domain.Submission{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, set_id, kind, target_id, vehicle_id, status, error, created_at
		FROM submissions WHERE id = ?
	`, id).Scan(&sub.ID, &sub.SetID, &sub.Kind, &sub.TargetID, &sub.VehicleID, &sub.Status, &sub.Error, &sub.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	return sub, nil
}

// ListBySetID returns the submission attempts for a capture set, oldest first.
func (s *SubmissionStore) ListBySetID(ctx context.Context, setID string) ([]*domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, set_id, kind, target_id, vehicle_id, status, error, created_at
		FROM submissions WHERE set_id = ? ORDER BY id ASC
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Submission
	for rows.Next() {
		sub := &domain.Submission{}
		if err := rows.Scan(&sub.ID, &sub.SetID, &sub.Kind, &sub.TargetID, &sub.VehicleID, &sub.Status, &sub.Error, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}

	return subs, nil
}
