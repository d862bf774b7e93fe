package inventory

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
	"github.com/FilipRus/boxItFindIt/internal/services"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

const (
	// formOverhead is allowed on top of the image limit for the other form fields.
	formOverhead = 1 << 20
	// multipartMemory is held in memory before parts spill to temp files.
	multipartMemory = 8 << 20
)

// ItemHandlers serves item creation under /api/boxes/:id/items and /api/items.
type ItemHandlers struct {
	items    ItemService
	labels   LabelService
	maxImage int64
}

// NewItemHandlers creates ItemHandlers. maxImageBytes bounds the request body of the
// multipart endpoints; zero uses validation.MaxImageSize.
func NewItemHandlers(items ItemService, labels LabelService, maxImageBytes int64) *ItemHandlers {
	if maxImageBytes <= 0 {
		maxImageBytes = validation.MaxImageSize
	}
	return &ItemHandlers{items: items, labels: labels, maxImage: maxImageBytes}
}

// itemForm is the parsed multipart body of item create and update.
type itemForm struct {
	name             string
	description      string
	destinationBoxID string
	deleteImage      bool
	labels           []string
	labelsSet        bool
	image            *services.ImageUpload
	file             multipart.File
}

func (f *itemForm) close() {
	if f.file != nil {
		f.file.Close()
	}
}

// readItemForm parses the multipart (or urlencoded) item form. The labels field is a JSON
// array string; an absent field leaves labels untouched on update.
func (h *ItemHandlers) readItemForm(c *gin.Context) (*itemForm, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxImage+formOverhead)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Invalidf("File too large. Maximum size is %s.", formatSize(h.maxImage))
		}
		return nil, apperr.Invalidf("Invalid form data")
	}

	form := &itemForm{
		name:             c.PostForm("name"),
		description:      c.PostForm("description"),
		destinationBoxID: c.PostForm("destinationBoxId"),
		deleteImage:      c.PostForm("deleteImage") == "true",
	}

	raw, present := c.GetPostForm("labels")
	labels, set, err := validation.ParseLabels(raw, present)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	form.labels, form.labelsSet = labels, set

	if c.Request.MultipartForm == nil {
		return form, nil
	}
	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return form, nil
	case err != nil:
		return nil, apperr.Invalidf("Invalid image upload")
	}
	if fh.Filename == "" && fh.Size == 0 {
		// browsers send an empty part when no file was chosen
		return form, nil
	}
	file, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to read image upload", err)
	}
	form.file = file
	form.image = &services.ImageUpload{
		Reader:      file,
		ContentType: fh.Header.Get("Content-Type"),
		Filename:    fh.Filename,
	}
	return form, nil
}

func formatSize(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

// @Summary      Create item
// @Description  Add an item to a box. Multipart form with name, description, image and labels (JSON array string).
// @Tags         Items
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        id           path      string  true   "Box ID"
// @Param        name         formData  string  true   "Item name"
// @Param        description  formData  string  false  "Description"
// @Param        labels       formData  string  false  "JSON array of label names"
// @Param        image        formData  file    false  "Item image"
// @Success      201  {object}  map[string]interface{}  "item: models.Item"
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      404  {object}  map[string]interface{}  "Box not found"
// @Failure      502  {object}  map[string]interface{}  "Image upload failed"
// @Router       /api/boxes/{id}/items [post]
func (h *ItemHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := h.readItemForm(c)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		defer form.close()

		item, err := h.items.Create(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), services.CreateItemInput{
			Name:        form.name,
			Description: form.description,
			Labels:      form.labels,
			Image:       form.image,
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"item": item})
	}
}

// Get returns one item with its labels.
// GET /api/items/:id
func (h *ItemHandlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := h.items.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item})
	}
}

// @Summary      Update item
// @Description  Rename, describe, move, replace or delete the image, and replace labels in one request.
// @Tags         Items
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        id                path      string  true   "Item ID"
// @Param        name              formData  string  true   "Item name"
// @Param        description       formData  string  false  "Description"
// @Param        destinationBoxId  formData  string  false  "Box to move the item to"
// @Param        deleteImage       formData  string  false  "true to remove the image"
// @Param        labels            formData  string  false  "JSON array of label names; omit to keep labels"
// @Param        image             formData  file    false  "Replacement image"
// @Success      200  {object}  map[string]interface{}  "item: models.Item, moved: bool"
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      404  {object}  map[string]interface{}  "Item or destination box not found"
// @Router       /api/items/{id} [patch]
func (h *ItemHandlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := h.readItemForm(c)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		defer form.close()

		item, moved, err := h.items.Update(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), services.UpdateItemInput{
			Name:             form.name,
			Description:      form.description,
			DestinationBoxID: form.destinationBoxID,
			DeleteImage:      form.deleteImage,
			Image:            form.image,
			LabelsSet:        form.labelsSet,
			Labels:           form.labels,
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item, "moved": moved})
	}
}

// Delete removes an item. Its image is deleted best effort.
// DELETE /api/items/:id
func (h *ItemHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.items.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		deleted(c)
	}
}

// ItemLabelsRequest is the body of PUT /api/items/:id/labels
type ItemLabelsRequest struct {
	Labels []string `json:"labels"`
}

// ReplaceLabels sets the item's labels to exactly the given names.
// PUT /api/items/:id/labels
func (h *ItemHandlers) ReplaceLabels() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ItemLabelsRequest
		if !bindJSON(c, &req) {
			return
		}
		names, err := validation.ValidateLabels(req.Labels)
		if err != nil {
			apperr.Respond(c, apperr.Invalidf("%s", err.Error()))
			return
		}
		labels, err := h.labels.ReplaceItemLabels(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), names)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels})
	}
}
