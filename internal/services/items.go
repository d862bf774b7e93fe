package services

import (
	"context"
	"errors"
	"strings"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

// ItemService manages items, their images and their labels.
type ItemService struct {
	items  ItemStore
	boxes  BoxStore
	images *ImageStore
}

// NewItemService creates an ItemService.
func NewItemService(items ItemStore, boxes BoxStore, images *ImageStore) *ItemService {
	return &ItemService{items: items, boxes: boxes, images: images}
}

// CreateItemInput is a parsed item creation request.
type CreateItemInput struct {
	Name        string
	Description string
	Labels      []string
	Image       *ImageUpload
}

// UpdateItemInput is a parsed item update request.
type UpdateItemInput struct {
	Name        string
	Description string
	// DestinationBoxID moves the item when set and different from its current box.
	DestinationBoxID string
	DeleteImage      bool
	Image            *ImageUpload
	// LabelsSet is false when the request did not carry a labels field.
	LabelsSet bool
	Labels    []string
}

// Get returns one item with its labels.
func (s *ItemService) Get(ctx context.Context, userID, id string) (*models.Item, error) {
	item, err := s.items.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, storeError("Failed to get item", err)
	}
	if item == nil {
		return nil, apperr.NotFoundf(msgItemNotFound)
	}
	return item, nil
}

// Create adds an item to one of the user's boxes. All input is validated before the
// image is uploaded; if the database write fails the uploaded image is removed again.
func (s *ItemService) Create(ctx context.Context, userID, boxID string, in CreateItemInput) (*models.Item, error) {
	name, err := validation.ValidateName("Name", in.Name)
	if err != nil {
		return nil, apperr.Invalidf("Item name is required")
	}

	owned, err := s.boxes.OwnedBy(ctx, boxID, userID)
	if err != nil {
		return nil, storeError("Failed to get box", err)
	}
	if !owned {
		return nil, apperr.NotFoundf(msgBoxNotFound)
	}

	var prepared *preparedImage
	if in.Image != nil {
		if prepared, err = s.images.Prepare(in.Image); err != nil {
			return nil, err
		}
	}

	item := &models.Item{
		BoxID:       boxID,
		Name:        name,
		Description: optionalText(in.Description),
	}
	if prepared != nil {
		ref, err := s.images.Upload(ctx, prepared)
		if err != nil {
			return nil, err
		}
		item.ImagePath = &ref
	}

	if err := s.items.Create(ctx, item, userID, validation.NormalizeLabels(in.Labels)); err != nil {
		if item.ImagePath != nil {
			s.images.Delete(ctx, *item.ImagePath)
		}
		if db.IsForeignKeyViolation(err) {
			return nil, apperr.NotFoundf(msgBoxNotFound)
		}
		return nil, storeError("Failed to create item", err)
	}

	telemetry.ItemsCreatedTotal.WithLabelValues(boolLabel(item.ImagePath != nil)).Inc()
	if len(in.Labels) > 0 {
		telemetry.LabelReconciliationsTotal.Inc()
	}
	return item, nil
}

// Update applies a PATCH to an item: rename, description, move, image delete or
// replacement and label replacement. It reports whether the item changed boxes.
//
// Image handling order: the new image is validated before anything is mutated and
// uploaded just before the database write. The old object is deleted only after the
// write committed; if the write fails the new upload is deleted instead.
func (s *ItemService) Update(ctx context.Context, userID, id string, in UpdateItemInput) (*models.Item, bool, error) {
	current, err := s.items.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, false, storeError("Failed to get item", err)
	}
	if current == nil {
		return nil, false, apperr.NotFoundf(msgItemNotFound)
	}

	dest := strings.TrimSpace(in.DestinationBoxID)
	if dest == current.BoxID {
		dest = ""
	}
	if dest != "" {
		owned, err := s.boxes.OwnedBy(ctx, dest, userID)
		if err != nil && !db.IsInvalidText(err) {
			return nil, false, storeError("Failed to get box", err)
		}
		if !owned {
			return nil, false, apperr.NotFoundf("Destination box not found or access denied")
		}
	}

	name, err := validation.ValidateName("Name", in.Name)
	if err != nil {
		return nil, false, apperr.Invalidf("Item name is required")
	}

	var prepared *preparedImage
	if in.Image != nil {
		if prepared, err = s.images.Prepare(in.Image); err != nil {
			return nil, false, err
		}
	}

	upd := repositories.ItemUpdate{
		Name:          name,
		Description:   optionalText(in.Description),
		BoxID:         dest,
		ReplaceLabels: in.LabelsSet,
		Labels:        validation.NormalizeLabels(in.Labels),
	}
	if in.DeleteImage {
		upd.SetImage = true
	}
	if prepared != nil {
		ref, err := s.images.Upload(ctx, prepared)
		if err != nil {
			return nil, false, err
		}
		upd.SetImage = true
		upd.ImagePath = &ref
	}

	updated, previous, err := s.items.Update(ctx, id, userID, upd)
	if err != nil {
		if upd.ImagePath != nil {
			s.images.Delete(ctx, *upd.ImagePath)
		}
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return nil, false, apperr.NotFoundf(msgItemNotFound)
		case db.IsForeignKeyViolation(err):
			return nil, false, apperr.NotFoundf("Destination box not found or access denied")
		}
		return nil, false, storeError("Failed to update item", err)
	}

	if upd.SetImage && previous.HasImage() && !sameRef(previous.ImagePath, updated.ImagePath) {
		s.images.Delete(ctx, *previous.ImagePath)
	}
	if in.LabelsSet {
		telemetry.LabelReconciliationsTotal.Inc()
	}
	return updated, previous.BoxID != updated.BoxID, nil
}

// Delete removes an item and then its image.
func (s *ItemService) Delete(ctx context.Context, userID, id string) error {
	item, err := s.items.Delete(ctx, id, userID)
	if err != nil {
		return storeError("Failed to delete item", err)
	}
	if item == nil {
		return apperr.NotFoundf(msgItemNotFound)
	}
	if item.HasImage() {
		s.images.Delete(ctx, *item.ImagePath)
	}
	return nil
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
