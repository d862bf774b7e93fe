// files.go serves item images straight from the local storage backend.
package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/storage/local"
)

// serveFileHandler handles GET /v1/files/*filepath.
// Only mounted when local storage has serve_directly: true
func serveFileHandler(ls *local.LocalStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("filepath"), "/")
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File path is required", "code": "invalid_input"})
			return
		}

		fullPath, err := ls.Resolve(key)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found", "code": "not_found"})
			return
		}

		info, err := os.Stat(fullPath)
		switch {
		case errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()):
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found", "code": "not_found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file", "code": "internal_error"})
			return
		}

		// object keys are random and never rewritten
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.File(fullPath)
	}
}
