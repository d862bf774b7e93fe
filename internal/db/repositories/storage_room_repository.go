package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

const roomColumns = `sr.id, sr.user_id, sr.name, sr.created_at, sr.updated_at`

// StorageRoomRepository handles storage room database operations
type StorageRoomRepository struct {
	db *sqlx.DB
}

// NewStorageRoomRepository creates a new StorageRoomRepository
func NewStorageRoomRepository(db *sqlx.DB) *StorageRoomRepository {
	return &StorageRoomRepository{db: db}
}

// Create inserts a new storage room
func (r *StorageRoomRepository) Create(ctx context.Context, room *models.StorageRoom) error {
	room.ID = uuid.New().String()
	room.CreatedAt = time.Now()
	room.UpdatedAt = room.CreatedAt
	room.Boxes = []models.Box{}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO storage_rooms (id, user_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		room.ID, room.UserID, room.Name, room.CreatedAt, room.UpdatedAt,
	)
	return err
}

// List returns the user's rooms, most recently updated first, with their boxes and counts.
func (r *StorageRoomRepository) List(ctx context.Context, userID string) ([]models.StorageRoom, error) {
	query := `
		SELECT ` + roomColumns + `,
			(SELECT COUNT(*) FROM boxes c WHERE c.storage_room_id = sr.id) AS box_count
		FROM storage_rooms sr
		WHERE sr.user_id = $1
		ORDER BY sr.updated_at DESC`

	rooms := []models.StorageRoom{}
	if err := r.db.SelectContext(ctx, &rooms, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list storage rooms: %w", err)
	}

	ids := make([]string, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}
	boxesByRoom, err := boxesWithCounts(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].Boxes = boxesByRoom[rooms[i].ID]
		if rooms[i].Boxes == nil {
			rooms[i].Boxes = []models.Box{}
		}
	}
	return rooms, nil
}

// GetForUser returns an owned room with its boxes, or nil.
func (r *StorageRoomRepository) GetForUser(ctx context.Context, id, userID string) (*models.StorageRoom, error) {
	var room models.StorageRoom
	query := `
		SELECT ` + roomColumns + `,
			(SELECT COUNT(*) FROM boxes c WHERE c.storage_room_id = sr.id) AS box_count
		FROM storage_rooms sr
		WHERE sr.id = $1 AND sr.user_id = $2`
	err := r.db.GetContext(ctx, &room, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storage room: %w", err)
	}

	boxesByRoom, err := boxesWithCounts(ctx, r.db, []string{room.ID})
	if err != nil {
		return nil, err
	}
	room.Boxes = boxesByRoom[room.ID]
	if room.Boxes == nil {
		room.Boxes = []models.Box{}
	}
	return &room, nil
}

// OwnedBy reports whether the room exists and belongs to userID.
func (r *StorageRoomRepository) OwnedBy(ctx context.Context, id, userID string) (bool, error) {
	var owned bool
	err := r.db.GetContext(ctx, &owned,
		`SELECT EXISTS(SELECT 1 FROM storage_rooms WHERE id = $1 AND user_id = $2)`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check storage room ownership: %w", err)
	}
	return owned, nil
}

// Rename sets a new name on an owned room. Returns false when nothing matched.
func (r *StorageRoomRepository) Rename(ctx context.Context, id, userID, name string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE storage_rooms SET name = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`,
		id, userID, name, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to rename storage room: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes an owned room and, by cascade, its boxes and items. It returns
// the image paths of every removed item, and false when nothing matched.
func (r *StorageRoomRepository) Delete(ctx context.Context, id, userID string) ([]string, bool, error) {
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
			WHERE sr.id = $1 AND sr.user_id = $2 AND i.image_path IS NOT NULL`,
			id, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to collect storage room images: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM storage_rooms WHERE id = $1 AND user_id = $2`,
			id, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete storage room: %w", err)
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

// boxesWithCounts loads the boxes of the given rooms with item counts, keyed by room id.
func boxesWithCounts(ctx context.Context, q sqlx.QueryerContext, roomIDs []string) (map[string][]models.Box, error) {
	out := make(map[string][]models.Box, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT ` + boxColumns + `,
			(SELECT COUNT(*) FROM items c WHERE c.box_id = b.id) AS item_count
		FROM boxes b
		WHERE b.storage_room_id = ANY($1)
		ORDER BY b.updated_at DESC`
	var boxes []models.Box
	if err := sqlx.SelectContext(ctx, q, &boxes, query, pq.Array(roomIDs)); err != nil {
		return nil, fmt.Errorf("failed to list room boxes: %w", err)
	}
	for _, box := range boxes {
		out[box.StorageRoomID] = append(out[box.StorageRoomID], box)
	}
	return out, nil
}
