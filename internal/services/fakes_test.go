package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/storage"
)

var errStore = errors.New("connection refused")

// ---------------------------------------------------------------------------
// Object storage
// ---------------------------------------------------------------------------

const memBase = "https://cdn.test/"

type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	uploadErr error
	deleteErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (m *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (*storage.UploadResult, error) {
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return &storage.UploadResult{Key: key, URL: m.PublicURL(key), Size: int64(len(data))}, nil
}

func (m *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) PublicURL(key string) string { return memBase + key }

func (m *memStorage) KeyFromURL(ref string) (string, bool) {
	return storage.TrimBaseURL(strings.TrimSuffix(memBase, "/"), ref)
}

func (m *memStorage) put(key string) string {
	m.objects[key] = []byte("old")
	return m.PublicURL(key)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngUpload(t *testing.T) *ImageUpload {
	return &ImageUpload{Reader: bytes.NewReader(testPNG(t)), ContentType: "image/png", Filename: "photo.png"}
}

func newTestImageStore(s storage.Storage) *ImageStore {
	return NewImageStore(s, nil, ImageConfig{Folder: "items"})
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type fakeUsers struct {
	byID      map[string]*models.User
	createErr error
	lookupErr error
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[string]*models.User{}} }

func (f *fakeUsers) add(u *models.User) *models.User {
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, u := range f.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, u *models.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	u.ID = fmt.Sprintf("user-%d", len(f.byID)+1)
	u.CreatedAt = time.Now()
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.ID == id })
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetUserByVerificationToken(_ context.Context, token string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.VerificationToken != nil && *u.VerificationToken == token })
}

func (f *fakeUsers) GetUserByResetToken(_ context.Context, token string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.PasswordResetToken != nil && *u.PasswordResetToken == token })
}

func (f *fakeUsers) MarkEmailVerified(_ context.Context, id string) error {
	u := f.byID[id]
	u.EmailVerified = true
	u.VerificationToken = nil
	return nil
}

func (f *fakeUsers) SetPasswordResetToken(_ context.Context, id, token string, exp time.Time) error {
	u := f.byID[id]
	u.PasswordResetToken = &token
	u.PasswordResetExpires = &exp
	return nil
}

func (f *fakeUsers) ResetPassword(_ context.Context, id, token, hash string) (bool, error) {
	u := f.byID[id]
	if u.PasswordResetToken == nil || *u.PasswordResetToken != token {
		return false, nil
	}
	u.PasswordHash = hash
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	return true, nil
}

type fakeMailer struct {
	verifications []string
	resets        []string
	testErr       error
}

func (m *fakeMailer) SendVerification(to, _, token string) {
	m.verifications = append(m.verifications, to+"|"+token)
}

func (m *fakeMailer) SendPasswordReset(to, _, token string, _ time.Duration) {
	m.resets = append(m.resets, to+"|"+token)
}

func (m *fakeMailer) SendTest(_ context.Context, _ string) error { return m.testErr }

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

// inventory is an in-memory store implementing the room, box, item and label stores
// with the same ownership scoping as the SQL repositories.
type inventory struct {
	rooms     map[string]*models.StorageRoom
	boxes     map[string]*models.Box
	items     map[string]*models.Item
	itemLabel map[string][]string // item id -> label names

	createBoxErrs []error
	createdCodes  []string
	itemWriteErr  error
	listErr       error
	seq           int
}

func newInventory() *inventory {
	return &inventory{
		rooms:     map[string]*models.StorageRoom{},
		boxes:     map[string]*models.Box{},
		items:     map[string]*models.Item{},
		itemLabel: map[string][]string{},
	}
}

func (v *inventory) nextID(prefix string) string {
	v.seq++
	return fmt.Sprintf("%s-%d", prefix, v.seq)
}

func (v *inventory) addRoom(id, userID, name string) {
	v.rooms[id] = &models.StorageRoom{ID: id, UserID: userID, Name: name}
}

func (v *inventory) addBox(id, roomID, name string) {
	v.boxes[id] = &models.Box{ID: id, StorageRoomID: roomID, Name: name, QRCode: "code" + id}
}

func (v *inventory) addItem(id, boxID, name string, image *string) {
	v.items[id] = &models.Item{ID: id, BoxID: boxID, Name: name, ImagePath: image, CreatedAt: time.Now()}
}

func (v *inventory) roomOwner(roomID string) string {
	if r, ok := v.rooms[roomID]; ok {
		return r.UserID
	}
	return ""
}

func (v *inventory) boxOwner(boxID string) string {
	if b, ok := v.boxes[boxID]; ok {
		return v.roomOwner(b.StorageRoomID)
	}
	return ""
}

func (v *inventory) itemOwner(itemID string) string {
	if i, ok := v.items[itemID]; ok {
		return v.boxOwner(i.BoxID)
	}
	return ""
}

func (v *inventory) withLabels(it models.Item) models.Item {
	it.Labels = []models.Label{}
	for _, n := range v.itemLabel[it.ID] {
		it.Labels = append(it.Labels, models.Label{ID: "label-" + n, Name: n})
	}
	return it
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}

// badID returns the error Postgres gives for ids prefixed "bad", wrapped the way the
// repositories wrap query failures.
func badID(what, id string) error {
	if !strings.HasPrefix(id, "bad") {
		return nil
	}
	return fmt.Errorf("failed to get %s: %w", what, &pq.Error{
		Code:    "22P02",
		Message: fmt.Sprintf("invalid input syntax for type uuid: %q", id),
	})
}

// pgItemStore, pgBoxStore and pgLabelStore reject unparseable ids before looking
// anything up, as the uuid columns do.
type pgItemStore struct{ itemStore }

func (s pgItemStore) GetForUser(ctx context.Context, id, userID string) (*models.Item, error) {
	if err := badID("item", id); err != nil {
		return nil, err
	}
	return s.itemStore.GetForUser(ctx, id, userID)
}

func (s pgItemStore) Update(ctx context.Context, id, userID string, upd repositories.ItemUpdate) (*models.Item, *models.Item, error) {
	if err := badID("item", id); err != nil {
		return nil, nil, err
	}
	return s.itemStore.Update(ctx, id, userID, upd)
}

func (s pgItemStore) Delete(ctx context.Context, id, userID string) (*models.Item, error) {
	if err := badID("item", id); err != nil {
		return nil, err
	}
	return s.itemStore.Delete(ctx, id, userID)
}

type pgBoxStore struct{ boxStore }

func (s pgBoxStore) OwnedBy(ctx context.Context, id, userID string) (bool, error) {
	if err := badID("box", id); err != nil {
		return false, err
	}
	return s.boxStore.OwnedBy(ctx, id, userID)
}

func (s pgBoxStore) GetForUser(ctx context.Context, id, userID string) (*models.Box, error) {
	if err := badID("box", id); err != nil {
		return nil, err
	}
	return s.boxStore.GetForUser(ctx, id, userID)
}

type pgRoomStore struct{ roomStore }

func (s pgRoomStore) OwnedBy(ctx context.Context, id, userID string) (bool, error) {
	if err := badID("storage room", id); err != nil {
		return false, err
	}
	return s.roomStore.OwnedBy(ctx, id, userID)
}

func (s pgRoomStore) GetForUser(ctx context.Context, id, userID string) (*models.StorageRoom, error) {
	if err := badID("storage room", id); err != nil {
		return nil, err
	}
	return s.roomStore.GetForUser(ctx, id, userID)
}

type pgLabelStore struct{ labelStore }

func (s pgLabelStore) ReplaceItemLabels(ctx context.Context, itemID, userID string, names []string) ([]models.Label, error) {
	if err := badID("item", itemID); err != nil {
		return nil, err
	}
	return s.labelStore.ReplaceItemLabels(ctx, itemID, userID, names)
}

// roomStore

type roomStore struct{ *inventory }

func (s roomStore) Create(_ context.Context, r *models.StorageRoom) error {
	r.ID = s.nextID("room")
	cp := *r
	s.rooms[r.ID] = &cp
	r.Boxes = []models.Box{}
	return nil
}

func (s roomStore) List(_ context.Context, userID string) ([]models.StorageRoom, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []models.StorageRoom{}
	for _, r := range s.rooms {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s roomStore) GetForUser(_ context.Context, id, userID string) (*models.StorageRoom, error) {
	if s.roomOwner(id) != userID {
		return nil, nil
	}
	cp := *s.rooms[id]
	return &cp, nil
}

func (s roomStore) OwnedBy(_ context.Context, id, userID string) (bool, error) {
	return s.roomOwner(id) == userID, nil
}

func (s roomStore) Rename(_ context.Context, id, userID, name string) (bool, error) {
	if s.roomOwner(id) != userID {
		return false, nil
	}
	s.rooms[id].Name = name
	return true, nil
}

func (s roomStore) Delete(_ context.Context, id, userID string) ([]string, bool, error) {
	if s.roomOwner(id) != userID {
		return nil, false, nil
	}
	var imgs []string
	for bid, b := range s.boxes {
		if b.StorageRoomID != id {
			continue
		}
		for iid, it := range s.items {
			if it.BoxID == bid {
				if it.HasImage() {
					imgs = append(imgs, *it.ImagePath)
				}
				delete(s.items, iid)
			}
		}
		delete(s.boxes, bid)
	}
	delete(s.rooms, id)
	return imgs, true, nil
}

// boxStore

type boxStore struct{ *inventory }

func (s boxStore) Create(_ context.Context, b *models.Box) error {
	s.createdCodes = append(s.createdCodes, b.QRCode)
	if len(s.createBoxErrs) > 0 {
		err := s.createBoxErrs[0]
		s.createBoxErrs = s.createBoxErrs[1:]
		if err != nil {
			return err
		}
	}
	b.ID = s.nextID("box")
	cp := *b
	s.boxes[b.ID] = &cp
	return nil
}

func (s boxStore) GetForUser(_ context.Context, id, userID string) (*models.Box, error) {
	if s.boxOwner(id) != userID {
		return nil, nil
	}
	cp := *s.boxes[id]
	return &cp, nil
}

func (s boxStore) OwnedBy(_ context.Context, id, userID string) (bool, error) {
	return s.boxOwner(id) == userID, nil
}

func (s boxStore) List(_ context.Context, userID string, f repositories.BoxFilter) ([]models.Box, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []models.Box{}
	for _, b := range s.boxes {
		if s.boxOwner(b.ID) != userID {
			continue
		}
		if f.StorageRoomID != "" && b.StorageRoomID != f.StorageRoomID {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(b.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s boxStore) Rename(_ context.Context, id, userID, name string) (*models.Box, error) {
	if s.boxOwner(id) != userID {
		return nil, nil
	}
	s.boxes[id].Name = name
	cp := *s.boxes[id]
	return &cp, nil
}

func (s boxStore) Delete(_ context.Context, id, userID string) ([]string, bool, error) {
	if s.boxOwner(id) != userID {
		return nil, false, nil
	}
	var imgs []string
	for iid, it := range s.items {
		if it.BoxID == id {
			if it.HasImage() {
				imgs = append(imgs, *it.ImagePath)
			}
			delete(s.items, iid)
		}
	}
	delete(s.boxes, id)
	return imgs, true, nil
}

func (s boxStore) GetPublicByQRCode(_ context.Context, code string) (*models.PublicBox, error) {
	for _, b := range s.boxes {
		if b.QRCode != code {
			continue
		}
		pb := &models.PublicBox{Name: b.Name, QRCode: b.QRCode, Items: []models.PublicItem{}}
		for _, it := range s.items {
			if it.BoxID == b.ID {
				pb.Items = append(pb.Items, models.PublicItem{ID: it.ID, Name: it.Name, Labels: s.itemLabel[it.ID]})
			}
		}
		return pb, nil
	}
	return nil, nil
}

// itemStore

type itemStore struct{ *inventory }

func (s itemStore) GetForUser(_ context.Context, id, userID string) (*models.Item, error) {
	if s.itemOwner(id) != userID {
		return nil, nil
	}
	it := s.withLabels(*s.items[id])
	return &it, nil
}

func (s itemStore) ListByBox(_ context.Context, boxID string) ([]models.Item, error) {
	out := []models.Item{}
	for _, it := range s.items {
		if it.BoxID == boxID {
			out = append(out, s.withLabels(*it))
		}
	}
	return out, nil
}

func (s itemStore) Create(_ context.Context, it *models.Item, _ string, labels []string) error {
	if s.itemWriteErr != nil {
		return s.itemWriteErr
	}
	it.ID = s.nextID("item")
	cp := *it
	s.items[it.ID] = &cp
	s.itemLabel[it.ID] = labels
	*it = s.withLabels(*it)
	return nil
}

func (s itemStore) Update(_ context.Context, id, userID string, upd repositories.ItemUpdate) (*models.Item, *models.Item, error) {
	if s.itemOwner(id) != userID {
		return nil, nil, repositories.ErrNotFound
	}
	if s.itemWriteErr != nil {
		return nil, nil, s.itemWriteErr
	}
	prev := *s.items[id]
	next := prev
	next.Name = upd.Name
	next.Description = upd.Description
	if upd.BoxID != "" {
		next.BoxID = upd.BoxID
	}
	if upd.SetImage {
		next.ImagePath = upd.ImagePath
	}
	s.items[id] = &next
	if upd.ReplaceLabels {
		s.itemLabel[id] = upd.Labels
	}
	out := s.withLabels(next)
	return &out, &prev, nil
}

func (s itemStore) Delete(_ context.Context, id, userID string) (*models.Item, error) {
	if s.itemOwner(id) != userID {
		return nil, nil
	}
	it := *s.items[id]
	delete(s.items, id)
	return &it, nil
}

// labelStore

type labelStore struct{ *inventory }

func (s labelStore) ListForUser(_ context.Context, userID string) ([]models.Label, error) {
	counts := map[string]int{}
	for id, names := range s.itemLabel {
		if s.itemOwner(id) != userID {
			continue
		}
		for _, n := range names {
			counts[n]++
		}
	}
	out := []models.Label{}
	for n, c := range counts {
		out = append(out, models.Label{ID: "label-" + n, Name: n, ItemCount: c})
	}
	return out, nil
}

func (s labelStore) ReplaceItemLabels(_ context.Context, itemID, userID string, names []string) ([]models.Label, error) {
	if s.itemOwner(itemID) != userID {
		return nil, repositories.ErrNotFound
	}
	s.itemLabel[itemID] = names
	return s.withLabels(*s.items[itemID]).Labels, nil
}

type fakeSearch struct {
	res *models.SearchResults
	err error
	q   string
}

func (f *fakeSearch) Search(_ context.Context, _ string, q string) (*models.SearchResults, error) {
	f.q = q
	return f.res, f.err
}
