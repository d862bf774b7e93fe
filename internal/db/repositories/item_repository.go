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

const itemColumns = `i.id, i.box_id, i.name, i.description, i.image_path, i.category, i.created_at, i.updated_at`

// ownedItems joins an item to its owner. Queries add "AND sr.user_id = $n".
const ownedItems = `
		FROM items i
		JOIN boxes b ON b.id = i.box_id
		JOIN storage_rooms sr ON sr.id = b.storage_room_id`

// ItemRepository handles item database operations
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository creates a new ItemRepository
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// ItemUpdate describes the changes applied by Update.
type ItemUpdate struct {
	Name        string
	Description *string
	// BoxID moves the item when non-empty. Ownership of the destination is checked by the caller.
	BoxID string
	// SetImage replaces image_path with ImagePath (nil clears it). When false the stored path is kept.
	SetImage  bool
	ImagePath *string
	// ReplaceLabels runs label reconciliation with Labels. When false labels are untouched.
	ReplaceLabels bool
	Labels        []string
}

// GetForUser returns the item with its labels, or nil when it does not exist or is not owned by userID.
func (r *ItemRepository) GetForUser(ctx context.Context, id, userID string) (*models.Item, error) {
	var item models.Item
	query := `SELECT ` + itemColumns + ownedItems + ` WHERE i.id = $1 AND sr.user_id = $2`
	err := r.db.GetContext(ctx, &item, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	items := []models.Item{item}
	if err := attachLabels(ctx, r.db, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ListByBox returns the items of a box, newest first, with labels.
// The caller must already have verified ownership of the box.
func (r *ItemRepository) ListByBox(ctx context.Context, boxID string) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items i WHERE i.box_id = $1 ORDER BY i.created_at DESC`
	items := []models.Item{}
	if err := r.db.SelectContext(ctx, &items, query, boxID); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	if err := attachLabels(ctx, r.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

// listByBoxes returns items of several boxes keyed by box id, newest first, without labels.
func listByBoxes(ctx context.Context, q sqlx.QueryerContext, boxIDs []string) (map[string][]models.Item, error) {
	out := make(map[string][]models.Item, len(boxIDs))
	if len(boxIDs) == 0 {
		return out, nil
	}
	query := `SELECT ` + itemColumns + ` FROM items i WHERE i.box_id = ANY($1) ORDER BY i.created_at DESC`
	var items []models.Item
	if err := sqlx.SelectContext(ctx, q, &items, query, pq.Array(boxIDs)); err != nil {
		return nil, fmt.Errorf("failed to list box items: %w", err)
	}
	for _, item := range items {
		out[item.BoxID] = append(out[item.BoxID], item)
	}
	return out, nil
}

// Create inserts the item and links its labels in one transaction.
func (r *ItemRepository) Create(ctx context.Context, item *models.Item, userID string, labelNames []string) error {
	item.ID = uuid.New().String()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, box_id, name, description, image_path, category, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, item.BoxID, item.Name, item.Description, item.ImagePath, item.Category,
			item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}

		labels, err := reconcileLabels(ctx, tx, item.ID, userID, labelNames)
		if err != nil {
			return err
		}
		item.Labels = labels
		return nil
	})
}

// lockOwnedItem selects the item FOR UPDATE, serializing writers of the same item.
func lockOwnedItem(ctx context.Context, tx *sqlx.Tx, id, userID string) (*models.Item, error) {
	var item models.Item
	query := `SELECT ` + itemColumns + ownedItems + ` WHERE i.id = $1 AND sr.user_id = $2 FOR UPDATE OF i`
	err := tx.GetContext(ctx, &item, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock item: %w", err)
	}
	return &item, nil
}

// Update applies upd to the item in one transaction. It returns the updated item
// and the row as it was before the update, so callers can clean up a replaced image.
// Returns ErrNotFound when the item is not owned by userID.
func (r *ItemRepository) Update(ctx context.Context, id, userID string, upd ItemUpdate) (updated, previous *models.Item, err error) {
	err = withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		prev, err := lockOwnedItem(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if prev == nil {
			return ErrNotFound
		}

		next := *prev
		next.Name = upd.Name
		next.Description = upd.Description
		if upd.BoxID != "" {
			next.BoxID = upd.BoxID
		}
		if upd.SetImage {
			next.ImagePath = upd.ImagePath
		}
		next.UpdatedAt = time.Now()

		_, err = tx.ExecContext(ctx, `
			UPDATE items
			SET box_id = $2, name = $3, description = $4, image_path = $5, updated_at = $6
			WHERE id = $1`,
			next.ID, next.BoxID, next.Name, next.Description, next.ImagePath, next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}

		if upd.ReplaceLabels {
			next.Labels, err = reconcileLabels(ctx, tx, id, userID, upd.Labels)
			if err != nil {
				return err
			}
		} else {
			items := []models.Item{next}
			if err := attachLabels(ctx, tx, items); err != nil {
				return err
			}
			next = items[0]
		}

		updated, previous = &next, prev
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, previous, nil
}

// Delete removes the item if owned by userID and returns the deleted row, or nil when nothing matched.
func (r *ItemRepository) Delete(ctx context.Context, id, userID string) (*models.Item, error) {
	var item models.Item
	query := `
		DELETE FROM items i
		USING boxes b, storage_rooms sr
		WHERE i.id = $1 AND b.id = i.box_id AND sr.id = b.storage_room_id AND sr.user_id = $2
		RETURNING ` + itemColumns
	err := r.db.GetContext(ctx, &item, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete item: %w", err)
	}
	return &item, nil
}
