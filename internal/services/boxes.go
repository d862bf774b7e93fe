package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/db"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

// qrAttempts is how many codes Create tries before reporting a conflict.
const qrAttempts = 2

// BoxService manages boxes and the public QR lookup.
type BoxService struct {
	boxes  BoxStore
	rooms  RoomStore
	items  ItemStore
	images *ImageStore
	newQR  func() (string, error)
}

// NewBoxService creates a BoxService.
func NewBoxService(boxes BoxStore, rooms RoomStore, items ItemStore, images *ImageStore) *BoxService {
	return &BoxService{boxes: boxes, rooms: rooms, items: items, images: images, newQR: auth.NewQRCode}
}

// List returns all of the user's boxes, optionally filtered by search.
func (s *BoxService) List(ctx context.Context, userID, search string) ([]models.Box, error) {
	boxes, err := s.boxes.List(ctx, userID, repositories.BoxFilter{Search: strings.TrimSpace(search)})
	if err != nil {
		return nil, storeError("Failed to list boxes", err)
	}
	return boxes, nil
}

// Create adds a box to one of the user's rooms with a fresh QR code. A QR collision is
// retried once with a new code.
func (s *BoxService) Create(ctx context.Context, userID, roomID, name string) (*models.Box, error) {
	name, err := validation.ValidateName("Name", name)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	if roomID == "" {
		return nil, apperr.Invalidf("Storage room ID is required")
	}

	owned, err := s.rooms.OwnedBy(ctx, roomID, userID)
	if err != nil {
		return nil, storeError("Failed to get storage room", err)
	}
	if !owned {
		return nil, apperr.NotFoundf(msgRoomNotFound)
	}

	for attempt := 1; ; attempt++ {
		code, err := s.newQR()
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "Failed to generate QR code", err)
		}
		box := &models.Box{StorageRoomID: roomID, Name: name, QRCode: code}
		err = s.boxes.Create(ctx, box)
		if err == nil {
			box.Items = []models.Item{}
			return box, nil
		}
		if !db.IsUniqueViolation(err, repositories.BoxQRCodeConstraint) {
			if db.IsForeignKeyViolation(err) {
				return nil, apperr.NotFoundf(msgRoomNotFound)
			}
			return nil, storeError("Failed to create box", err)
		}
		if attempt >= qrAttempts {
			return nil, apperr.Wrap(apperr.Conflict, "Could not allocate a unique QR code", err)
		}
		slog.Warn("qr code collision, retrying", "attempt", attempt)
	}
}

// Get returns a box with its items, newest first.
func (s *BoxService) Get(ctx context.Context, userID, id string) (*models.Box, error) {
	box, err := s.boxes.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, storeError("Failed to get box", err)
	}
	if box == nil {
		return nil, apperr.NotFoundf(msgBoxNotFound)
	}
	items, err := s.items.ListByBox(ctx, box.ID)
	if err != nil {
		return nil, storeError("Failed to list items", err)
	}
	box.Items = items
	box.ItemCount = len(items)
	return box, nil
}

// Rename changes a box's name.
func (s *BoxService) Rename(ctx context.Context, userID, id, name string) (*models.Box, error) {
	name, err := validation.ValidateName("Name", name)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	box, err := s.boxes.Rename(ctx, id, userID, name)
	if err != nil {
		return nil, storeError("Failed to rename box", err)
	}
	if box == nil {
		return nil, apperr.NotFoundf(msgBoxNotFound)
	}
	return box, nil
}

// Delete removes a box with its items, then deletes their images.
func (s *BoxService) Delete(ctx context.Context, userID, id string) error {
	imgs, found, err := s.boxes.Delete(ctx, id, userID)
	if err != nil {
		return storeError("Failed to delete box", err)
	}
	if !found {
		return apperr.NotFoundf(msgBoxNotFound)
	}
	s.images.DeleteAll(ctx, imgs)
	return nil
}

// Public returns the unauthenticated view of the box behind a QR code. Malformed and
// unknown codes produce the same not-found error.
func (s *BoxService) Public(ctx context.Context, qrCode string) (*models.PublicBox, error) {
	if !auth.ValidQRCode(qrCode) {
		telemetry.PublicBoxLookupsTotal.WithLabelValues("false").Inc()
		return nil, apperr.NotFoundf(msgBoxNotFound)
	}
	box, err := s.boxes.GetPublicByQRCode(ctx, qrCode)
	if err != nil {
		return nil, storeError("Failed to get box", err)
	}
	if box == nil {
		telemetry.PublicBoxLookupsTotal.WithLabelValues("false").Inc()
		return nil, apperr.NotFoundf(msgBoxNotFound)
	}
	telemetry.PublicBoxLookupsTotal.WithLabelValues("true").Inc()
	return box, nil
}
