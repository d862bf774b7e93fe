package services

import (
	"context"
	"strings"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

// RoomService manages storage rooms.
type RoomService struct {
	rooms  RoomStore
	boxes  BoxStore
	images *ImageStore
}

// NewRoomService creates a RoomService.
func NewRoomService(rooms RoomStore, boxes BoxStore, images *ImageStore) *RoomService {
	return &RoomService{rooms: rooms, boxes: boxes, images: images}
}

// List returns the user's rooms with their boxes.
func (s *RoomService) List(ctx context.Context, userID string) ([]models.StorageRoom, error) {
	rooms, err := s.rooms.List(ctx, userID)
	if err != nil {
		return nil, storeError("Failed to list storage rooms", err)
	}
	return rooms, nil
}

// Create adds a room for the user.
func (s *RoomService) Create(ctx context.Context, userID, name string) (*models.StorageRoom, error) {
	name, err := validation.ValidateName("Name", name)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	room := &models.StorageRoom{UserID: userID, Name: name}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, storeError("Failed to create storage room", err)
	}
	return room, nil
}

// Get returns one room with its boxes.
func (s *RoomService) Get(ctx context.Context, userID, id string) (*models.StorageRoom, error) {
	room, err := s.rooms.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, storeError("Failed to get storage room", err)
	}
	if room == nil {
		return nil, apperr.NotFoundf(msgRoomNotFound)
	}
	return room, nil
}

// Rename changes a room's name and returns the updated room.
func (s *RoomService) Rename(ctx context.Context, userID, id, name string) (*models.StorageRoom, error) {
	name, err := validation.ValidateName("Name", name)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	ok, err := s.rooms.Rename(ctx, id, userID, name)
	if err != nil {
		return nil, storeError("Failed to rename storage room", err)
	}
	if !ok {
		return nil, apperr.NotFoundf(msgRoomNotFound)
	}
	return s.Get(ctx, userID, id)
}

// Delete removes a room with its boxes and items, then deletes their images.
func (s *RoomService) Delete(ctx context.Context, userID, id string) error {
	imgs, found, err := s.rooms.Delete(ctx, id, userID)
	if err != nil {
		return storeError("Failed to delete storage room", err)
	}
	if !found {
		return apperr.NotFoundf(msgRoomNotFound)
	}
	s.images.DeleteAll(ctx, imgs)
	return nil
}

// ListBoxes returns the room's boxes, optionally filtered by a search term matching the
// box name or any item's name, description or category.
func (s *RoomService) ListBoxes(ctx context.Context, userID, roomID, search string) ([]models.Box, error) {
	owned, err := s.rooms.OwnedBy(ctx, roomID, userID)
	if err != nil {
		return nil, storeError("Failed to get storage room", err)
	}
	if !owned {
		return nil, apperr.NotFoundf(msgRoomNotFound)
	}
	boxes, err := s.boxes.List(ctx, userID, repositories.BoxFilter{
		StorageRoomID: roomID,
		Search:        strings.TrimSpace(search),
	})
	if err != nil {
		return nil, storeError("Failed to list boxes", err)
	}
	return boxes, nil
}
