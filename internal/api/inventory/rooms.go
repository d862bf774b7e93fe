package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
)

// RoomHandlers serves /api/storage-rooms.
type RoomHandlers struct {
	rooms RoomService
	boxes BoxService
}

// NewRoomHandlers creates RoomHandlers. Boxes are needed for POST /:id/boxes.
func NewRoomHandlers(rooms RoomService, boxes BoxService) *RoomHandlers {
	return &RoomHandlers{rooms: rooms, boxes: boxes}
}

// @Summary      List storage rooms
// @Description  The caller's rooms with their boxes and per-box item counts, most recently updated first.
// @Tags         Storage rooms
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "storageRooms: []models.StorageRoom"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/storage-rooms [get]
func (h *RoomHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, err := h.rooms.List(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"storageRooms": rooms})
	}
}

// @Summary      Create storage room
// @Tags         Storage rooms
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  NameRequest  true  "Room name"
// @Success      201  {object}  map[string]interface{}  "storageRoom: models.StorageRoom"
// @Failure      400  {object}  map[string]interface{}  "Name is required"
// @Router       /api/storage-rooms [post]
func (h *RoomHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NameRequest
		if !bindJSON(c, &req) {
			return
		}
		room, err := h.rooms.Create(c.Request.Context(), middleware.CurrentUserID(c), req.Name)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"storageRoom": room})
	}
}

// Get returns one room with its boxes.
// GET /api/storage-rooms/:id
func (h *RoomHandlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := h.rooms.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"storageRoom": room})
	}
}

// Rename changes a room's name.
// PATCH /api/storage-rooms/:id
func (h *RoomHandlers) Rename() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NameRequest
		if !bindJSON(c, &req) {
			return
		}
		room, err := h.rooms.Rename(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Name)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"storageRoom": room})
	}
}

// Delete removes a room with its boxes, items and item images.
// DELETE /api/storage-rooms/:id
func (h *RoomHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.rooms.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		deleted(c)
	}
}

// ListBoxes returns the room's boxes with their items.
// GET /api/storage-rooms/:id/boxes?search=
func (h *RoomHandlers) ListBoxes() gin.HandlerFunc {
	return func(c *gin.Context) {
		boxes, err := h.rooms.ListBoxes(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), c.Query("search"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"boxes": boxes})
	}
}

// CreateBox adds a box to the room.
// POST /api/storage-rooms/:id/boxes
func (h *RoomHandlers) CreateBox() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NameRequest
		if !bindJSON(c, &req) {
			return
		}
		box, err := h.boxes.Create(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Name)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"box": box})
	}
}
