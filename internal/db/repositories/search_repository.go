package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

// SearchRepository runs case-insensitive substring search over a user's inventory
type SearchRepository struct {
	db *sqlx.DB
}

// NewSearchRepository creates a new SearchRepository
func NewSearchRepository(db *sqlx.DB) *SearchRepository {
	return &SearchRepository{db: db}
}

type itemSearchRow struct {
	models.Item
	BoxName   string `db:"box_name"`
	BoxQRCode string `db:"box_qr_code"`
	RoomID    string `db:"room_id"`
	RoomName  string `db:"room_name"`
}

type boxSearchRow struct {
	models.Box
	RoomName string `db:"room_name"`
}

// Search matches items by name, description, category or label name, boxes by
// name, and storage rooms by name. A blank query returns empty results without
// touching the database.
func (r *SearchRepository) Search(ctx context.Context, userID, q string) (*models.SearchResults, error) {
	results := &models.SearchResults{
		Items:        []models.Item{},
		Boxes:        []models.Box{},
		StorageRooms: []models.StorageRoom{},
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return results, nil
	}
	pattern := containsPattern(q)

	var itemRows []itemSearchRow
	err := r.db.SelectContext(ctx, &itemRows, `
		SELECT `+itemColumns+`,
			b.name AS box_name, b.qr_code AS box_qr_code, sr.id AS room_id, sr.name AS room_name
		`+ownedItems+`
		WHERE sr.user_id = $1 AND (
			i.name ILIKE $2 OR i.description ILIKE $2 OR i.category ILIKE $2
			OR EXISTS (
				SELECT 1 FROM item_labels il
				JOIN labels l ON l.id = il.label_id
				WHERE il.item_id = i.id AND l.name ILIKE $2
			)
		)
		ORDER BY i.created_at DESC`,
		userID, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	for _, row := range itemRows {
		item := row.Item
		item.Box = &models.Box{
			ID:            item.BoxID,
			StorageRoomID: row.RoomID,
			Name:          row.BoxName,
			QRCode:        row.BoxQRCode,
			StorageRoom:   &models.StorageRoom{ID: row.RoomID, UserID: userID, Name: row.RoomName},
		}
		results.Items = append(results.Items, item)
	}
	if err := attachLabels(ctx, r.db, results.Items); err != nil {
		return nil, err
	}

	var boxRows []boxSearchRow
	err = r.db.SelectContext(ctx, &boxRows, `
		SELECT `+boxColumns+`,
			(SELECT COUNT(*) FROM items c WHERE c.box_id = b.id) AS item_count,
			sr.name AS room_name
		FROM boxes b
		JOIN storage_rooms sr ON sr.id = b.storage_room_id
		WHERE sr.user_id = $1 AND b.name ILIKE $2
		ORDER BY b.updated_at DESC`,
		userID, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search boxes: %w", err)
	}
	for _, row := range boxRows {
		box := row.Box
		box.StorageRoom = &models.StorageRoom{ID: box.StorageRoomID, UserID: userID, Name: row.RoomName}
		results.Boxes = append(results.Boxes, box)
	}

	err = r.db.SelectContext(ctx, &results.StorageRooms, `
		SELECT `+roomColumns+`,
			(SELECT COUNT(*) FROM boxes c WHERE c.storage_room_id = sr.id) AS box_count
		FROM storage_rooms sr
		WHERE sr.user_id = $1 AND sr.name ILIKE $2
		ORDER BY sr.updated_at DESC`,
		userID, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search storage rooms: %w", err)
	}

	return results, nil
}
