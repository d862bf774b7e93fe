package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

// LabelRepository handles the per-user label vocabulary and item/label links
type LabelRepository struct {
	db *sqlx.DB
}

// NewLabelRepository creates a new LabelRepository
func NewLabelRepository(db *sqlx.DB) *LabelRepository {
	return &LabelRepository{db: db}
}

// ListForUser returns the user's labels ordered by name, with the number of items carrying each.
func (r *LabelRepository) ListForUser(ctx context.Context, userID string) ([]models.Label, error) {
	query := `
		SELECT l.id, l.user_id, l.name, l.created_at, COUNT(il.item_id) AS item_count
		FROM labels l
		LEFT JOIN item_labels il ON il.label_id = l.id
		WHERE l.user_id = $1
		GROUP BY l.id, l.user_id, l.name, l.created_at
		ORDER BY l.name
	`
	labels := []models.Label{}
	if err := r.db.SelectContext(ctx, &labels, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return labels, nil
}

// ReplaceItemLabels converges the item's labels to names in a single transaction.
// Returns ErrNotFound when the item is not owned by userID.
func (r *LabelRepository) ReplaceItemLabels(ctx context.Context, itemID, userID string, names []string) ([]models.Label, error) {
	var labels []models.Label
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		item, err := lockOwnedItem(ctx, tx, itemID, userID)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrNotFound
		}
		labels, err = reconcileLabels(ctx, tx, itemID, userID, names)
		return err
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// reconcileLabels replaces every label link of itemID with links to the labels
// named in names, creating missing labels in userID's vocabulary. Names are
// trimmed, empty names are skipped and repeats collapse to one link.
func reconcileLabels(ctx context.Context, tx sqlx.ExtContext, itemID, userID string, names []string) ([]models.Label, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_labels WHERE item_id = $1`, itemID); err != nil {
		return nil, fmt.Errorf("failed to clear item labels: %w", err)
	}

	labels := make([]models.Label, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		label, err := findOrCreateLabel(ctx, tx, userID, name)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO item_labels (item_id, label_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			itemID, label.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to link label %q: %w", name, err)
		}
		labels = append(labels, *label)
	}
	return labels, nil
}

// findOrCreateLabel looks the label up by (user, name) and inserts it when absent.
// The insert tolerates a concurrent creator of the same name.
func findOrCreateLabel(ctx context.Context, q sqlx.ExtContext, userID, name string) (*models.Label, error) {
	var label models.Label
	err := sqlx.GetContext(ctx, q, &label,
		`SELECT id, user_id, name, created_at FROM labels WHERE user_id = $1 AND name = $2`,
		userID, name,
	)
	if err == nil {
		return &label, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up label %q: %w", name, err)
	}

	err = sqlx.GetContext(ctx, q, &label, `
		INSERT INTO labels (id, user_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, user_id, name, created_at`,
		uuid.New().String(), userID, name, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create label %q: %w", name, err)
	}
	return &label, nil
}

type itemLabelRow struct {
	ItemID string `db:"item_id"`
	models.Label
}

// labelsForItems loads the labels of every item in itemIDs, keyed by item id.
func labelsForItems(ctx context.Context, q sqlx.QueryerContext, itemIDs []string) (map[string][]models.Label, error) {
	out := make(map[string][]models.Label, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT il.item_id, l.id, l.user_id, l.name, l.created_at
		FROM item_labels il
		JOIN labels l ON l.id = il.label_id
		WHERE il.item_id = ANY($1)
		ORDER BY l.name
	`
	var rows []itemLabelRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, pq.Array(itemIDs)); err != nil {
		return nil, fmt.Errorf("failed to load item labels: %w", err)
	}
	for _, row := range rows {
		out[row.ItemID] = append(out[row.ItemID], row.Label)
	}
	return out, nil
}

// attachLabels fills Labels on each item. Items without labels get an empty slice.
func attachLabels(ctx context.Context, q sqlx.QueryerContext, items []models.Item) error {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	byItem, err := labelsForItems(ctx, q, ids)
	if err != nil {
		return err
	}
	for i := range items {
		if labels, ok := byItem[items[i].ID]; ok {
			items[i].Labels = labels
		} else {
			items[i].Labels = []models.Label{}
		}
	}
	return nil
}
