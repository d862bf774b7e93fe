package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
)

// LabelHandlers serves /api/labels and /api/search.
type LabelHandlers struct {
	labels LabelService
}

// NewLabelHandlers creates LabelHandlers.
func NewLabelHandlers(labels LabelService) *LabelHandlers {
	return &LabelHandlers{labels: labels}
}

// List returns the caller's labels ordered by name with item counts.
// GET /api/labels
func (h *LabelHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		labels, err := h.labels.List(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels})
	}
}

// @Summary      Search
// @Description  Case-insensitive substring search over the caller's items, boxes and rooms. A blank query returns empty lists.
// @Tags         Search
// @Security     Bearer
// @Produce      json
// @Param        q  query  string  false  "Search term"
// @Success      200  {object}  models.SearchResults
// @Router       /api/search [get]
func (h *LabelHandlers) Search() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.labels.Search(c.Request.Context(), middleware.CurrentUserID(c), c.Query("q"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// QRHandlers serves POST /api/qr.
type QRHandlers struct {
	qr QRService
}

// NewQRHandlers creates QRHandlers.
func NewQRHandlers(qr QRService) *QRHandlers {
	return &QRHandlers{qr: qr}
}

// QRRequest is the body of POST /api/qr
type QRRequest struct {
	QRCode string `json:"qrCode"`
}

// @Summary      Render QR code
// @Description  PNG data URI encoding <origin>/box/<qrCode>. The origin comes from the Origin header, then the Referer, then the configured app URL.
// @Tags         Boxes
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  QRRequest  true  "Box QR code"
// @Success      200  {object}  map[string]interface{}  "qrCodeImage: data URI"
// @Failure      400  {object}  map[string]interface{}  "QR code is required"
// @Failure      502  {object}  map[string]interface{}  "Failed to generate QR code"
// @Router       /api/qr [post]
func (h *QRHandlers) Render() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QRRequest
		if !bindJSON(c, &req) {
			return
		}
		img, err := h.qr.Render(req.QRCode, c.GetHeader("Origin"), c.GetHeader("Referer"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"qrCodeImage": img})
	}
}
