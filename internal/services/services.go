// Package services implements BoxIT's business operations. Each service validates its
// input, performs the ownership-scoped lookups through the repositories and coordinates
// the collaborators an operation touches (object storage, image processing, email, QR
// rendering). Services return *apperr.Error values so handlers can map them to HTTP
// responses without knowing which layer failed.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/images"
)

// UserStore is the account persistence used by AccountService.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (*models.User, error)
	GetUserByResetToken(ctx context.Context, token string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, userID string) error
	SetPasswordResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ResetPassword(ctx context.Context, userID, token, passwordHash string) (bool, error)
}

// RoomStore is the storage room persistence.
type RoomStore interface {
	Create(ctx context.Context, room *models.StorageRoom) error
	List(ctx context.Context, userID string) ([]models.StorageRoom, error)
	GetForUser(ctx context.Context, id, userID string) (*models.StorageRoom, error)
	OwnedBy(ctx context.Context, id, userID string) (bool, error)
	Rename(ctx context.Context, id, userID, name string) (bool, error)
	Delete(ctx context.Context, id, userID string) ([]string, bool, error)
}

// BoxStore is the box persistence.
type BoxStore interface {
	Create(ctx context.Context, box *models.Box) error
	GetForUser(ctx context.Context, id, userID string) (*models.Box, error)
	OwnedBy(ctx context.Context, id, userID string) (bool, error)
	List(ctx context.Context, userID string, filter repositories.BoxFilter) ([]models.Box, error)
	Rename(ctx context.Context, id, userID, name string) (*models.Box, error)
	Delete(ctx context.Context, id, userID string) ([]string, bool, error)
	GetPublicByQRCode(ctx context.Context, qrCode string) (*models.PublicBox, error)
}

// ItemStore is the item persistence.
type ItemStore interface {
	GetForUser(ctx context.Context, id, userID string) (*models.Item, error)
	ListByBox(ctx context.Context, boxID string) ([]models.Item, error)
	Create(ctx context.Context, item *models.Item, userID string, labelNames []string) error
	Update(ctx context.Context, id, userID string, upd repositories.ItemUpdate) (updated, previous *models.Item, err error)
	Delete(ctx context.Context, id, userID string) (*models.Item, error)
}

// LabelStore is the label persistence.
type LabelStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.Label, error)
	ReplaceItemLabels(ctx context.Context, itemID, userID string, names []string) ([]models.Label, error)
}

// SearchStore runs the cross-entity search.
type SearchStore interface {
	Search(ctx context.Context, userID, q string) (*models.SearchResults, error)
}

// Mailer sends account emails.
type Mailer interface {
	SendVerification(to, name, token string)
	SendPasswordReset(to, name, token string, ttl time.Duration)
	SendTest(ctx context.Context, to string) error
}

// ImageProcessor normalizes an uploaded image before storage.
type ImageProcessor interface {
	Process(data []byte) (*images.Result, error)
}

// storeError classifies a repository error. Unique violations are conflicts. A vanished
// row or parent is not found, and so is an id Postgres cannot parse. Anything else is
// an upstream failure.
func storeError(message string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, "Resource not found", err)
	case db.IsUniqueViolation(err, ""):
		return apperr.Wrap(apperr.Conflict, "Resource already exists", err)
	case db.IsForeignKeyViolation(err), db.IsInvalidText(err):
		return apperr.Wrap(apperr.NotFound, "Resource not found", err)
	default:
		return apperr.Upstream(message, err)
	}
}

// Not-found messages returned to clients. Missing and not-owned are the same response.
const (
	msgRoomNotFound = "Storage room not found"
	msgBoxNotFound  = "Box not found"
	msgItemNotFound = "Item not found"
)
