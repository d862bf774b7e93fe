package models

import "time"

// StorageRoom is the top-level container owned by a single user.
type StorageRoom struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Aggregates, populated by list/get queries
	BoxCount int   `db:"box_count" json:"boxCount"`
	Boxes    []Box `db:"-" json:"boxes,omitempty"`
}

// Box lives in a storage room and carries the public QR identifier.
type Box struct {
	ID            string    `db:"id" json:"id"`
	StorageRoomID string    `db:"storage_room_id" json:"storageRoomId"`
	Name          string    `db:"name" json:"name"`
	QRCode        string    `db:"qr_code" json:"qrCode"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`

	ItemCount   int          `db:"item_count" json:"itemCount"`
	Items       []Item       `db:"-" json:"items,omitempty"`
	StorageRoom *StorageRoom `db:"-" json:"storageRoom,omitempty"`
}

// Item is a leaf entity inside a box.
type Item struct {
	ID          string    `db:"id" json:"id"`
	BoxID       string    `db:"box_id" json:"boxId"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	ImagePath   *string   `db:"image_path" json:"imagePath"`
	Category    *string   `db:"category" json:"category,omitempty"` // legacy free-text field
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`

	Labels []Label `db:"-" json:"labels"`
	Box    *Box    `db:"-" json:"box,omitempty"`
}

// HasImage reports whether the item references a stored image.
func (i *Item) HasImage() bool {
	return i.ImagePath != nil && *i.ImagePath != ""
}

// Label is a per-user tag. Names are unique within one user's vocabulary.
type Label struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"-"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	ItemCount int `db:"item_count" json:"itemCount,omitempty"`
}

// ItemLabel joins an item to one of its owner's labels.
type ItemLabel struct {
	ItemID  string `db:"item_id"`
	LabelID string `db:"label_id"`
}

// PublicBox is the unauthenticated view of a box reached through its QR code.
// It deliberately carries no storage room or owner data.
type PublicBox struct {
	Name   string       `json:"name"`
	QRCode string       `json:"qrCode"`
	Items  []PublicItem `json:"items"`
}

// PublicItem is an item as shown on the public box page.
type PublicItem struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	ImagePath   *string   `db:"image_path" json:"imagePath"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	Labels      []string  `db:"-" json:"labels"`
}

// SearchResults groups everything a search matched.
type SearchResults struct {
	Items        []Item        `json:"items"`
	Boxes        []Box         `json:"boxes"`
	StorageRooms []StorageRoom `json:"storageRooms"`
}
