package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/repository"
)

// ProcessingTimeframe is promised to the user in the intake response.
const ProcessingTimeframe = "30 days"

// DeletionInput is a data-deletion request as received from a signed-in user.
type DeletionInput struct {
	UserEmail   string
	UserID      string
	Provider    string
	RequestedAt string // RFC 3339; empty means now
	IP          string
	UserAgent   string
}

// DeletionService records data-deletion requests for later processing.
type DeletionService struct {
	repo repository.DeletionRequestRepository
	now  func() time.Time
	log  *zap.Logger
}

// NewDeletionService constructs DeletionService.
func NewDeletionService(repo repository.DeletionRequestRepository, log *zap.Logger) *DeletionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeletionService{repo: repo, now: time.Now, log: log}
}

// RequestID formats the public tracking id for t.
func RequestID(t time.Time) string {
	return "DR-" + strconv.FormatInt(t.UnixMilli(), 10)
}

// Submit validates in and stores it as pending.
// Two requests in the same millisecond get consecutive tracking ids.
func (s *DeletionService) Submit(ctx context.Context, in DeletionInput) (*model.DeletionRequest, error) {
	email := strings.TrimSpace(in.UserEmail)
	if email == "" {
		return nil, fmt.Errorf("%w: User email is required", errs.ErrValidation)
	}
	now := s.now().UTC()
	requestedAt := now
	if in.RequestedAt != "" {
		t, err := time.Parse(time.RFC3339, in.RequestedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: requestedAt: %v", errs.ErrValidation, err)
		}
		requestedAt = t.UTC()
	}

	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		id, idErr := uuid.NewV4()
		if idErr != nil {
			return nil, idErr
		}
		d := &model.DeletionRequest{
			ID:          id,
			RequestID:   RequestID(now.Add(time.Duration(i) * time.Millisecond)),
			UserID:      in.UserID,
			UserEmail:   email,
			Provider:    in.Provider,
			RequestedAt: requestedAt,
			Status:      model.DeletionPending,
			IP:          in.IP,
			UserAgent:   in.UserAgent,
		}
		if err = s.repo.Create(ctx, d); err == nil {
			s.log.Info("data deletion request stored",
				zap.String("request_id", d.RequestID), zap.String("provider", d.Provider))
			return d, nil
		}
		if !errors.Is(err, errs.ErrAlreadyExists) {
			return nil, fmt.Errorf("store deletion request: %w", err)
		}
	}
	return nil, fmt.Errorf("store deletion request: %w", err)
}

// Get returns a stored request by tracking id.
func (s *DeletionService) Get(ctx context.Context, requestID string) (*model.DeletionRequest, error) {
	return s.repo.GetByRequestID(ctx, requestID)
}

// Pending lists requests not yet processed, oldest first.
func (s *DeletionService) Pending(ctx context.Context, limit int) ([]model.DeletionRequest, error) {
	return s.repo.ListPending(ctx, limit)
}

// Complete marks a request as processed.
func (s *DeletionService) Complete(ctx context.Context, requestID string) error {
	if err := s.repo.MarkStatus(ctx, requestID, model.DeletionCompleted); err != nil {
		return fmt.Errorf("complete %s: %w", requestID, err)
	}
	s.log.Info("data deletion request completed", zap.String("request_id", requestID))
	return nil
}
