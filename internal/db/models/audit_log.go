package models

import "time"

// AuditLog records a mutating request made by an authenticated user.
type AuditLog struct {
	ID           string
	UserID       *string                // Nullable once the user is deleted
	Action       string                 // "item.update", "box.delete", "account.signup"
	ResourceType *string                // "storage_room", "box", "item", "account"
	ResourceID   *string                // id from the request path
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string
	CreatedAt    time.Time
}
