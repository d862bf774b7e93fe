package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

const insertAuditLog = `
	INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, metadata, ip_address, created_at)
	VALUES (:id, :user_id, :action, :resource_type, :resource_id, :metadata, :ip_address, :created_at)`

// auditRow is the column mapping for audit_logs. Metadata is nil or a JSON string;
// lib/pq would send []byte as bytea, which jsonb rejects.
type auditRow struct {
	ID           string    `db:"id"`
	UserID       *string   `db:"user_id"`
	Action       string    `db:"action"`
	ResourceType *string   `db:"resource_type"`
	ResourceID   *string   `db:"resource_id"`
	Metadata     any       `db:"metadata"`
	IPAddress    *string   `db:"ip_address"`
	CreatedAt    time.Time `db:"created_at"`
}

// AuditRepository appends to and prunes the audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: sqlx.NewDb(db, "postgres")}
}

// CreateAuditLog inserts entry, filling in ID and CreatedAt when they are unset.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row := auditRow{
		ID:           entry.ID,
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		IPAddress:    entry.IPAddress,
		CreatedAt:    entry.CreatedAt,
	}
	if len(entry.Metadata) > 0 {
		meta, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		row.Metadata = string(meta)
	}

	if _, err := r.db.NamedExecContext(ctx, insertAuditLog, row); err != nil {
		return fmt.Errorf("insert audit log %s: %w", entry.Action, err)
	}
	return nil
}

// DeleteOlderThan removes entries created before cutoff and reports how many went.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
