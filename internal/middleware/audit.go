// audit.go provides Gin middleware that records authenticated write operations to the
// audit_logs table.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/safego"
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// resourceTypes maps the collection segment of a route to its audit resource type.
var resourceTypes = map[string]string{
	"storage-rooms": "storage_room",
	"boxes":         "box",
	"items":         "item",
	"labels":        "label",
	"qr":            "qr_code",
	"test-email":    "email",
}

// verbOverrides replaces the method-derived verb for collections that are not CRUD.
var verbOverrides = map[string]string{
	"qr":         "render",
	"test-email": "send",
}

// AuditMiddleware records mutating requests after they complete. With a nil cfg only
// successful writes are recorded.
func AuditMiddleware(writer AuditWriter, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if writer == nil || (cfg != nil && !cfg.Enabled) {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		status := c.Writer.Status()
		if status >= 400 && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}

		entry := buildAuditLog(c, status)

		safego.Go("audit-log", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}

func buildAuditLog(c *gin.Context, status int) *models.AuditLog {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	action, resourceType, idParam, parentParam := describeRoute(c.Request.Method, route)

	ip := c.ClientIP()
	entry := &models.AuditLog{
		Action:    action,
		IPAddress: &ip,
		Metadata: map[string]interface{}{
			"status_code": status,
			"route":       route,
		},
	}
	if uid := CurrentUserID(c); uid != "" {
		entry.UserID = &uid
	}
	if resourceType != "" {
		entry.ResourceType = &resourceType
	}
	if idParam != "" {
		if id := c.Param(idParam); id != "" {
			entry.ResourceID = &id
		}
	}
	if parentParam != "" {
		if id := c.Param(parentParam); id != "" {
			entry.Metadata["parent_id"] = id
		}
	}
	if m, ok := c.Get(AuthMethodKey); ok {
		entry.Metadata["auth_method"] = m
	}
	if rid, ok := c.Get(RequestIDKey); ok {
		entry.Metadata["request_id"] = rid
	}
	return entry
}

// describeRoute derives "<resource>.<verb>" from a route template such as
// /api/storage-rooms/:id/boxes. idParam names the parameter holding the target
// resource id; parentParam names the one holding the enclosing resource.
func describeRoute(method, route string) (action, resourceType, idParam, parentParam string) {
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) > 0 && segments[0] == "api" {
		segments = segments[1:]
	}

	collection := ""
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "*") {
			if collection == "" {
				idParam = seg[1:]
			} else {
				parentParam = seg[1:]
				break
			}
			continue
		}
		if collection != "" {
			break
		}
		collection = seg
	}

	resourceType = resourceTypes[collection]
	if resourceType == "" {
		resourceType = strings.ReplaceAll(collection, "-", "_")
	}

	verb := verbOverrides[collection]
	if verb == "" {
		switch method {
		case http.MethodPost:
			verb = "create"
		case http.MethodPut, http.MethodPatch:
			verb = "update"
		case http.MethodDelete:
			verb = "delete"
		default:
			verb = strings.ToLower(method)
		}
	}

	if resourceType == "" {
		return verb, "", idParam, parentParam
	}
	return resourceType + "." + verb, resourceType, idParam, parentParam
}
