package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/model"
)

// DeletionRepo implements repository.DeletionRequestRepository over data_deletion_requests.
type DeletionRepo struct{ db *DB }

// NewDeletionRepo constructs a deletion request repository.
func NewDeletionRepo(db *DB) *DeletionRepo { return &DeletionRepo{db: db} }

const deletionCols = `id, request_id, user_id, user_email, provider, requested_at, status, ip, user_agent, created_at`

// Create inserts r. created_at is assigned by the database and written back.
func (r *DeletionRepo) Create(ctx context.Context, d *model.DeletionRequest) error {
	const q = `
INSERT INTO data_deletion_requests (id, request_id, user_id, user_email, provider, requested_at, status, ip, user_agent)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q,
		d.ID, d.RequestID, d.UserID, d.UserEmail, d.Provider, d.RequestedAt, d.Status, d.IP, d.UserAgent,
	).Scan(&d.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("deletion request %s: %w", d.RequestID, errs.ErrAlreadyExists)
	}
	return err
}

// GetByRequestID loads a request by tracking id.
func (r *DeletionRepo) GetByRequestID(ctx context.Context, requestID string) (*model.DeletionRequest, error) {
	q := `SELECT ` + deletionCols + ` FROM data_deletion_requests WHERE request_id=$1`
	var d model.DeletionRequest
	if err := scanDeletion(r.db.Pool.QueryRow(ctx, q, requestID), &d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListPending returns pending requests, oldest first.
func (r *DeletionRepo) ListPending(ctx context.Context, limit int) ([]model.DeletionRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + deletionCols + `
FROM data_deletion_requests
WHERE status=$1
ORDER BY requested_at ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, model.DeletionPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DeletionRequest
	for rows.Next() {
		var d model.DeletionRequest
		if err := scanDeletion(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkStatus updates the status. An unknown request id is errs.ErrNotFound.
func (r *DeletionRepo) MarkStatus(ctx context.Context, requestID, status string) error {
	const q = `UPDATE data_deletion_requests SET status=$2 WHERE request_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, requestID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanDeletion(row pgx.Row, d *model.DeletionRequest) error {
	return row.Scan(&d.ID, &d.RequestID, &d.UserID, &d.UserEmail, &d.Provider,
		&d.RequestedAt, &d.Status, &d.IP, &d.UserAgent, &d.CreatedAt)
}
