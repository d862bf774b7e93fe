// Package inventory implements the authenticated inventory endpoints (storage rooms, boxes,
// items, labels, search and QR rendering) and the public box lookup reached by scanning a
// box's QR code.
//
// Every handler reads the caller from middleware.CurrentUserID and passes it to the
// service layer, which scopes all lookups to that user. Errors are rendered with
// apperr.Respond so the status codes stay consistent across resources.
package inventory

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/services"
)

// RoomService manages storage rooms.
type RoomService interface {
	List(ctx context.Context, userID string) ([]models.StorageRoom, error)
	Create(ctx context.Context, userID, name string) (*models.StorageRoom, error)
	Get(ctx context.Context, userID, id string) (*models.StorageRoom, error)
	Rename(ctx context.Context, userID, id, name string) (*models.StorageRoom, error)
	Delete(ctx context.Context, userID, id string) error
	ListBoxes(ctx context.Context, userID, roomID, search string) ([]models.Box, error)
}

// BoxService manages boxes and the public QR view.
type BoxService interface {
	List(ctx context.Context, userID, search string) ([]models.Box, error)
	Create(ctx context.Context, userID, roomID, name string) (*models.Box, error)
	Get(ctx context.Context, userID, id string) (*models.Box, error)
	Rename(ctx context.Context, userID, id, name string) (*models.Box, error)
	Delete(ctx context.Context, userID, id string) error
	Public(ctx context.Context, qrCode string) (*models.PublicBox, error)
}

// ItemService manages items and their images.
type ItemService interface {
	Get(ctx context.Context, userID, id string) (*models.Item, error)
	Create(ctx context.Context, userID, boxID string, in services.CreateItemInput) (*models.Item, error)
	Update(ctx context.Context, userID, id string, in services.UpdateItemInput) (*models.Item, bool, error)
	Delete(ctx context.Context, userID, id string) error
}

// LabelService exposes labels and search.
type LabelService interface {
	List(ctx context.Context, userID string) ([]models.Label, error)
	ReplaceItemLabels(ctx context.Context, userID, itemID string, names []string) ([]models.Label, error)
	Search(ctx context.Context, userID, q string) (*models.SearchResults, error)
}

// QRService renders box links as QR images.
type QRService interface {
	Render(code, originHeader, referer string) (string, error)
}

// NameRequest is the body of the create and rename endpoints.
type NameRequest struct {
	Name string `json:"name"`
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		apperr.Respond(c, apperr.Invalidf("Invalid request body"))
		return false
	}
	return true
}

func deleted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}
