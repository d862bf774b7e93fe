package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

const boxColumns = `b.id, b.storage_room_id, b.name, b.qr_code, b.created_at, b.updated_at`

// BoxQRCodeConstraint is the unique constraint guarding box QR codes.
const BoxQRCodeConstraint = "boxes_qr_code_key"

// BoxRepository handles box database operations
type BoxRepository struct {
	db *sqlx.DB
}

// NewBoxRepository creates a new BoxRepository
func NewBoxRepository(db *sqlx.DB) *BoxRepository {
	return &BoxRepository{db: db}
}

// BoxFilter narrows List.
type BoxFilter struct {
	// StorageRoomID limits results to one room when set.
	StorageRoomID string
	// Search matches the box name or any contained item's name, description or category.
	Search string
}

// Create inserts a box. The QR code must already be set; a collision surfaces
// as a unique violation on BoxQRCodeConstraint.
func (r *BoxRepository) Create(ctx context.Context, box *models.Box) error {
	box.ID = uuid.New().String()
	box.CreatedAt = time.Now()
	box.UpdatedAt = box.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO boxes (id, storage_room_id, name, qr_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		box.ID, box.StorageRoomID, box.Name, box.QRCode, box.CreatedAt, box.UpdatedAt,
	)
	return err
}

// GetForUser returns the box if userID owns it, without items.
func (r *BoxRepository) GetForUser(ctx context.Context, id, userID string) (*models.Box, error) {
	var box models.Box
	query := `
		SELECT ` + boxColumns + `
		FROM boxes b
		JOIN storage_rooms sr ON sr.id = b.storage_room_id
		WHERE b.id = $1 AND sr.user_id = $2`
	err := r.db.GetContext(ctx, &box, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box: %w", err)
	}
	return &box, nil
}

// OwnedBy reports whether the box exists and belongs to userID.
func (r *BoxRepository) OwnedBy(ctx context.Context, id, userID string) (bool, error) {
	var owned bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM boxes b
			JOIN storage_rooms sr ON sr.id = b.storage_room_id
			WHERE b.id = $1 AND sr.user_id = $2
		)`
	if err := r.db.GetContext(ctx, &owned, query, id, userID); err != nil {
		return false, fmt.Errorf("failed to check box ownership: %w", err)
	}
	return owned, nil
}

// List returns the user's boxes, most recently updated first, each with its items and item count.
func (r *BoxRepository) List(ctx context.Context, userID string, filter BoxFilter) ([]models.Box, error) {
	args := []interface{}{userID}
	query := `
		SELECT ` + boxColumns + `,
			(SELECT COUNT(*) FROM items c WHERE c.box_id = b.id) AS item_count
		FROM boxes b
		JOIN storage_rooms sr ON sr.id = b.storage_room_id
		WHERE sr.user_id = $1`

	if filter.StorageRoomID != "" {
		args = append(args, filter.StorageRoomID)
		query += fmt.Sprintf(` AND b.storage_room_id = $%d`, len(args))
	}
	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		n := len(args)
		query += fmt.Sprintf(` AND (b.name ILIKE $%[1]d OR EXISTS (
			SELECT 1 FROM items s
			WHERE s.box_id = b.id AND (s.name ILIKE $%[1]d OR s.description ILIKE $%[1]d OR s.category ILIKE $%[1]d)
		))`, n)
	}
	query += ` ORDER BY b.updated_at DESC`

	boxes := []models.Box{}
	if err := r.db.SelectContext(ctx, &boxes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}

	ids := make([]string, len(boxes))
	for i := range boxes {
		ids[i] = boxes[i].ID
	}
	itemsByBox, err := listByBoxes(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range boxes {
		boxes[i].Items = itemsByBox[boxes[i].ID]
		if boxes[i].Items == nil {
			boxes[i].Items = []models.Item{}
		}
	}
	return boxes, nil
}

// Rename sets a new name on an owned box. Returns nil when nothing matched.
func (r *BoxRepository) Rename(ctx context.Context, id, userID, name string) (*models.Box, error) {
	var box models.Box
	query := `
		UPDATE boxes b
		SET name = $3, updated_at = $4
		FROM storage_rooms sr
		WHERE b.id = $1 AND sr.id = b.storage_room_id AND sr.user_id = $2
		RETURNING ` + boxColumns
	err := r.db.GetContext(ctx, &box, query, id, userID, name, time.Now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rename box: %w", err)
	}
	return &box, nil
}

// Delete removes an owned box and, by cascade, its items. It returns the image
// paths of the removed items so the caller can clean up storage, and false when
// nothing matched.
func (r *BoxRepository) Delete(ctx context.Context, id, userID string) ([]string, bool, error) {
	var (
		images []string
		found  bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.SelectContext(ctx, &images, `
			SELECT i.image_path
			FROM items i
			JOIN boxes b ON b.id = i.box_id
			JOIN storage_rooms sr ON sr.id = b.storage_room_id
			WHERE b.id = $1 AND sr.user_id = $2 AND i.image_path IS NOT NULL`,
			id, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to collect box images: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			DELETE FROM boxes b
			USING storage_rooms sr
			WHERE b.id = $1 AND sr.id = b.storage_room_id AND sr.user_id = $2`,
			id, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete box: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		found = n > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return images, true, nil
}

type publicBoxRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	QRCode string `db:"qr_code"`
}

// GetPublicByQRCode returns the public view of the box with the given code, or nil.
// No ownership data is selected.
func (r *BoxRepository) GetPublicByQRCode(ctx context.Context, qrCode string) (*models.PublicBox, error) {
	var row publicBoxRow
	err := r.db.GetContext(ctx, &row, `SELECT id, name, qr_code FROM boxes WHERE qr_code = $1`, qrCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box by code: %w", err)
	}

	items := []models.PublicItem{}
	err = r.db.SelectContext(ctx, &items, `
		SELECT id, name, description, image_path, created_at
		FROM items
		WHERE box_id = $1
		ORDER BY created_at DESC`,
		row.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list public items: %w", err)
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	labels, err := labelsForItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Labels = []string{}
		for _, l := range labels[items[i].ID] {
			items[i].Labels = append(items[i].Labels, l.Name)
		}
	}

	return &models.PublicBox{Name: row.Name, QRCode: row.QRCode, Items: items}, nil
}
