// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/nomadrise/internal/model"
)

// DeletionRequestRepository stores data-deletion requests until they are processed.
type DeletionRequestRepository interface {
	// Create inserts a new request. A duplicate request id is errs.ErrAlreadyExists.
	Create(ctx context.Context, r *model.DeletionRequest) error
	// GetByRequestID loads a request by its public tracking id.
	GetByRequestID(ctx context.Context, requestID string) (*model.DeletionRequest, error)
	// ListPending returns up to limit pending requests, oldest first.
	ListPending(ctx context.Context, limit int) ([]model.DeletionRequest, error)
	// MarkStatus moves a request to status.
	MarkStatus(ctx context.Context, requestID, status string) error
}
