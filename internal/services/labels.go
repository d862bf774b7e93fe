package services

import (
	"context"
	"errors"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

// LabelService exposes the label vocabulary, item label replacement and search.
type LabelService struct {
	labels LabelStore
	search SearchStore
}

// NewLabelService creates a LabelService.
func NewLabelService(labels LabelStore, search SearchStore) *LabelService {
	return &LabelService{labels: labels, search: search}
}

// List returns the user's labels ordered by name with item counts.
func (s *LabelService) List(ctx context.Context, userID string) ([]models.Label, error) {
	labels, err := s.labels.ListForUser(ctx, userID)
	if err != nil {
		return nil, storeError("Failed to list labels", err)
	}
	return labels, nil
}

// ReplaceItemLabels converges an item's labels to names.
func (s *LabelService) ReplaceItemLabels(ctx context.Context, userID, itemID string, names []string) ([]models.Label, error) {
	labels, err := s.labels.ReplaceItemLabels(ctx, itemID, userID, validation.NormalizeLabels(names))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperr.NotFoundf(msgItemNotFound)
	}
	if err != nil {
		return nil, storeError("Failed to update labels", err)
	}
	telemetry.LabelReconciliationsTotal.Inc()
	return labels, nil
}

// Search matches q against the user's items, boxes and rooms. A blank query returns
// empty results.
func (s *LabelService) Search(ctx context.Context, userID, q string) (*models.SearchResults, error) {
	res, err := s.search.Search(ctx, userID, q)
	if err != nil {
		return nil, storeError("Search failed", err)
	}
	return res, nil
}
