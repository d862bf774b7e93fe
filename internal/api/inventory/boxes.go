package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
)

// BoxHandlers serves /api/boxes and the public box lookup.
type BoxHandlers struct {
	boxes BoxService
}

// NewBoxHandlers creates BoxHandlers.
func NewBoxHandlers(boxes BoxService) *BoxHandlers {
	return &BoxHandlers{boxes: boxes}
}

// CreateBoxRequest is the body of POST /api/boxes
type CreateBoxRequest struct {
	Name          string `json:"name"`
	StorageRoomID string `json:"storageRoomId"`
}

// @Summary      List boxes
// @Description  All of the caller's boxes across rooms, optionally filtered by box or item text.
// @Tags         Boxes
// @Security     Bearer
// @Produce      json
// @Param        search  query  string  false  "Search term"
// @Success      200  {object}  map[string]interface{}  "boxes: []models.Box"
// @Router       /api/boxes [get]
func (h *BoxHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		boxes, err := h.boxes.List(c.Request.Context(), middleware.CurrentUserID(c), c.Query("search"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"boxes": boxes})
	}
}

// @Summary      Create box
// @Description  Create a box in one of the caller's rooms. The box gets a fresh QR code.
// @Tags         Boxes
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateBoxRequest  true  "Box name and room"
// @Success      201  {object}  map[string]interface{}  "box: models.Box"
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      404  {object}  map[string]interface{}  "Storage room not found"
// @Router       /api/boxes [post]
func (h *BoxHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBoxRequest
		if !bindJSON(c, &req) {
			return
		}
		box, err := h.boxes.Create(c.Request.Context(), middleware.CurrentUserID(c), req.StorageRoomID, req.Name)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"box": box})
	}
}

// Get returns a box with its items.
// GET /api/boxes/:id
func (h *BoxHandlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		box, err := h.boxes.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"box": box})
	}
}

// Rename changes a box's name. The QR code never changes.
// PATCH /api/boxes/:id
func (h *BoxHandlers) Rename() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NameRequest
		if !bindJSON(c, &req) {
			return
		}
		box, err := h.boxes.Rename(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Name)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"box": box})
	}
}

// Delete removes a box and its items.
// DELETE /api/boxes/:id
func (h *BoxHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.boxes.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		deleted(c)
	}
}

// @Summary      Public box
// @Description  Unauthenticated view of a box by QR code: name, code and items only.
// @Tags         Public
// @Produce      json
// @Param        qrCode  path  string  true  "Box QR code"
// @Success      200  {object}  map[string]interface{}  "box: models.PublicBox"
// @Failure      404  {object}  map[string]interface{}  "Box not found"
// @Router       /api/public/box/{qrCode} [get]
func (h *BoxHandlers) Public() gin.HandlerFunc {
	return func(c *gin.Context) {
		box, err := h.boxes.Public(c.Request.Context(), c.Param("qrCode"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"box": box})
	}
}
