package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"collaborative-document-server/internal/collection"
	"collaborative-document-server/internal/document"
	apperrors "collaborative-document-server/internal/errors"
	"collaborative-document-server/internal/lockq"
	"collaborative-document-server/internal/room"
	"collaborative-document-server/internal/user"
	"collaborative-document-server/internal/worker"
)

// ---- in-memory gateways ----

type memColRepo struct {
	mu     sync.Mutex
	cols   map[string]*collection.Collection
	grants map[[2]uint64]*collection.Grant
	opened int
}

func newMemColRepo() *memColRepo {
	return &memColRepo{
		cols:   make(map[string]*collection.Collection),
		grants: make(map[[2]uint64]*collection.Grant),
	}
}

func (m *memColRepo) Create(_ context.Context, col *collection.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col.ID = uint64(len(m.cols) + 1)
	m.cols[col.UUID] = col
	return nil
}

func (m *memColRepo) FindByUUID(_ context.Context, id string) (*collection.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.cols[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return col, nil
}

func (m *memColRepo) ListForUser(_ context.Context, userID uint64) ([]collection.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []collection.Collection
	for _, col := range m.cols {
		if col.OwnerID == userID {
			out = append(out, *col)
		} else if _, ok := m.grants[[2]uint64{userID, col.ID}]; ok {
			out = append(out, *col)
		}
	}
	return out, nil
}

func (m *memColRepo) Save(_ context.Context, col *collection.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols[col.UUID] = col
	return nil
}

func (m *memColRepo) Delete(_ context.Context, col *collection.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cols, col.UUID)
	return nil
}

func (m *memColRepo) FindGrant(_ context.Context, userID, colID uint64) (*collection.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grant, ok := m.grants[[2]uint64{userID, colID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return grant, nil
}

func (m *memColRepo) SaveGrant(_ context.Context, grant *collection.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[[2]uint64{grant.UserID, grant.CollectionID}] = grant
	return nil
}

func (m *memColRepo) TouchLastOpened(_ context.Context, _, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	return nil
}

type memDocRepo struct {
	mu   sync.Mutex
	docs map[string]string
}

func newMemDocRepo() *memDocRepo { return &memDocRepo{docs: make(map[string]string)} }

func (m *memDocRepo) Create(_ context.Context, colUUID, name string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := document.Key(colUUID, name)
	if _, ok := m.docs[key]; ok {
		return nil, gorm.ErrDuplicatedKey
	}
	m.docs[key] = ""
	return &document.Document{Name: name}, nil
}

func (m *memDocRepo) FindByCollectionAndName(_ context.Context, colUUID, name string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.docs[document.Key(colUUID, name)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &document.Document{Name: name, Text: text}, nil
}

func (m *memDocRepo) UpsertText(_ context.Context, colUUID, name, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[document.Key(colUUID, name)] = text
	return nil
}

func (m *memDocRepo) ListNames(_ context.Context, _ uint64) ([]string, error) { return nil, nil }
func (m *memDocRepo) PurgeCollection(_ context.Context, _ uint64) error       { return nil }

type memUsers struct {
	byID map[uint64]*user.User
}

func (m *memUsers) Register(*user.User) error { return nil }
func (m *memUsers) Login(string, string) (*user.User, error) {
	return nil, gorm.ErrRecordNotFound
}
func (m *memUsers) GetUserByID(id uint64) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}
func (m *memUsers) GetUserByEmail(email string) (*user.User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (m *memUsers) DeactivateUser(uint64) error { return nil }

// ---- fixture ----

type fixture struct {
	router  *Router
	rooms   *room.Broadcaster
	colRepo *memColRepo
	docRepo *memDocRepo
	colUUID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	colRepo := newMemColRepo()
	docRepo := newMemDocRepo()
	pool := worker.NewPool(1, zerolog.Nop())
	t.Cleanup(pool.Shutdown)

	engine := document.NewEngine(docRepo, pool, time.Minute, zerolog.Nop())
	collections := collection.NewService(colRepo, docRepo, time.Minute, zerolog.Nop())
	users := &memUsers{byID: map[uint64]*user.User{
		1: {ID: 1, Name: "owner", Email: "owner@example.com"},
		2: {ID: 2, Name: "editor", Email: "editor@example.com"},
		3: {ID: 3, Name: "guest", Email: "guest@example.com"},
	}}

	locks := lockq.New()
	rooms := room.NewBroadcaster()

	router := NewRouter(apperrors.DefaultChain(), zerolog.Nop())
	handlers := NewHandlers(collections, users, engine, locks, zerolog.Nop())
	require.NoError(t, handlers.Bind(router))

	// Collection owned by user 1, user 2 granted Write.
	colUUID := uuid.NewString()
	col := &collection.Collection{UUID: colUUID, OwnerID: 1, Name: "col", DefaultDocument: "index", Visibility: collection.Private}
	require.NoError(t, colRepo.Create(context.Background(), col))
	require.NoError(t, colRepo.SaveGrant(context.Background(), &collection.Grant{UserID: 2, CollectionID: col.ID, Visibility: collection.Write}))

	return &fixture{router: router, rooms: rooms, colRepo: colRepo, docRepo: docRepo, colUUID: colUUID}
}

func (f *fixture) session(id uint64, names string) (*Session, *fakeConn) {
	conn := &fakeConn{}
	s := NewSession(&user.User{ID: id, Name: names}, conn, f.rooms, zerolog.Nop())
	return s, conn
}

func (f *fixture) dispatch(s *Session, msgType string, payload any, ack string) {
	raw, _ := json.Marshal(payload)
	f.router.Dispatch(context.Background(), s, Request{Type: msgType, Payload: raw, Acknowledge: ack})
}

func lastEnvelope(t *testing.T, conn *fakeConn) Envelope {
	t.Helper()
	sent := conn.envelopes()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

// ---- tests ----

func TestOpenJoinsRoomAndReturnsText(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session(1, "owner")

	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "a1")

	env := lastEnvelope(t, conn)
	assert.Equal(t, "DOC.OPEN.OK", env.Type)
	assert.Equal(t, "a1", env.Acknowledge)
	assert.Equal(t, document.Key(f.colUUID, "doc"), s.Room())
	assert.Equal(t, 1, f.colRepo.opened, "last-opened not recorded")
}

func TestOpenDefaultsToCollectionDefaultDocument(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session(1, "owner")

	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": f.colUUID}, "")

	var result openResult
	require.NoError(t, json.Unmarshal(lastEnvelope(t, conn).Payload, &result))
	assert.Equal(t, "index", result.Document)
}

func TestOpenForbiddenWithoutRead(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session(3, "guest")

	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")

	assert.Equal(t, "DOC.OPEN.FORBIDDEN", lastEnvelope(t, conn).Type)
	assert.Empty(t, s.Room(), "forbidden open must not join the room")
}

func TestWriteFansOutToWholeRoom(t *testing.T) {
	f := newFixture(t)
	owner, ownerConn := f.session(1, "owner")
	editor, editorConn := f.session(2, "editor")

	f.dispatch(owner, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")
	f.dispatch(editor, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")

	f.dispatch(owner, "DOC.WRITE", map[string]any{
		"collection": f.colUUID,
		"document":   "doc",
		"transform":  map[string]any{"kind": "insert", "index": 0, "sid": 0, "text": "abc"},
	}, "w1")

	ownerEnv := lastEnvelope(t, ownerConn)
	editorEnv := lastEnvelope(t, editorConn)
	assert.Equal(t, "DOC.WRITE.OK", ownerEnv.Type, "emit must echo to the writer")
	assert.Equal(t, "DOC.WRITE.OK", editorEnv.Type)
	assert.JSONEq(t, string(ownerEnv.Payload), string(editorEnv.Payload), "room message payloads differ")

	var result writeResult
	require.NoError(t, json.Unmarshal(editorEnv.Payload, &result))
	assert.Equal(t, "abc", result.Text)
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	f := newFixture(t)
	owner, ownerConn := f.session(1, "owner")
	editor, editorConn := f.session(2, "editor")

	f.dispatch(owner, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")
	f.dispatch(editor, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")
	before := len(ownerConn.envelopes())

	require.NoError(t, owner.BroadcastRoom("CURSOR.MOVED", map[string]int{"index": 4}, ""))

	assert.Len(t, ownerConn.envelopes(), before, "broadcast echoed to its origin")
	assert.Equal(t, "CURSOR.MOVED", lastEnvelope(t, editorConn).Type)
}

func TestWriteForbiddenWithoutWrite(t *testing.T) {
	f := newFixture(t)
	guest, conn := f.session(3, "guest")

	f.dispatch(guest, "DOC.WRITE", map[string]any{
		"collection": f.colUUID,
		"document":   "doc",
		"transform":  map[string]any{"kind": "insert", "index": 0, "sid": 0, "text": "x"},
	}, "")

	assert.Equal(t, "DOC.WRITE.FORBIDDEN", lastEnvelope(t, conn).Type)
}

func TestWriteWithMalformedTransform(t *testing.T) {
	f := newFixture(t)
	owner, conn := f.session(1, "owner")

	f.dispatch(owner, "DOC.WRITE", map[string]any{
		"collection": f.colUUID,
		"document":   "doc",
		"transform":  map[string]any{"kind": "scramble", "index": 0, "sid": 0},
	}, "")

	env := lastEnvelope(t, conn)
	assert.Equal(t, "DOC.WRITE.BAD_REQUEST", env.Type)
}

func TestSequentialWritesConverge(t *testing.T) {
	f := newFixture(t)
	owner, conn := f.session(1, "owner")
	f.dispatch(owner, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")

	writes := []map[string]any{
		{"kind": "insert", "index": 0, "sid": 0, "text": "abc"},
		{"kind": "insert", "index": 1, "sid": 1, "text": "123"},
		{"kind": "delete", "index": 0, "sid": 2, "count": 1},
	}
	for _, tr := range writes {
		f.dispatch(owner, "DOC.WRITE", map[string]any{
			"collection": f.colUUID, "document": "doc", "transform": tr,
		}, "")
	}

	var result writeResult
	require.NoError(t, json.Unmarshal(lastEnvelope(t, conn).Payload, &result))
	assert.Equal(t, "123bc", result.Text)
}

func TestJoinLeavesPreviousRoom(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session(1, "owner")

	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "one"}, "")
	firstRoom := s.Room()
	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "two"}, "")

	assert.Equal(t, 0, f.rooms.Subscribers(firstRoom), "stale subscription after re-join")
	assert.Equal(t, document.Key(f.colUUID, "two"), s.Room())

	before := len(conn.envelopes())
	f.rooms.Publish(firstRoom, room.Message{Type: "STALE", Mode: room.ModeEmit})
	assert.Len(t, conn.envelopes(), before, "delivery from a left room")
}

func TestRoomLeave(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session(1, "owner")

	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")
	f.dispatch(s, "ROOM.LEAVE", struct{}{}, "a9")

	assert.Equal(t, "ROOM.LEAVE.OK", lastEnvelope(t, conn).Type)
	assert.Empty(t, s.Room())
}

func TestCreateCollectionAndGrantFlow(t *testing.T) {
	f := newFixture(t)
	owner, ownerConn := f.session(1, "owner")

	f.dispatch(owner, "COLLECTION.CREATE", map[string]any{"name": "notes", "visibility": 0}, "c1")
	env := lastEnvelope(t, ownerConn)
	require.Equal(t, "COLLECTION.CREATE.OK", env.Type)

	var created collectionView
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	require.NotEmpty(t, created.UUID)

	// Grant the guest read access by email.
	f.dispatch(owner, "COLLECTION.GRANT", map[string]any{
		"collection": created.UUID,
		"email":      "guest@example.com",
		"visibility": 1,
	}, "")
	assert.Equal(t, "COLLECTION.GRANT.OK", lastEnvelope(t, ownerConn).Type)

	// Guest can now open but not write.
	guest, guestConn := f.session(3, "guest")
	f.dispatch(guest, "DOC.OPEN", map[string]string{"collection": created.UUID, "document": "doc"}, "")
	assert.Equal(t, "DOC.OPEN.OK", lastEnvelope(t, guestConn).Type)

	f.dispatch(guest, "DOC.WRITE", map[string]any{
		"collection": created.UUID,
		"document":   "doc",
		"transform":  map[string]any{"kind": "insert", "index": 0, "sid": 0, "text": "x"},
	}, "")
	assert.Equal(t, "DOC.WRITE.FORBIDDEN", lastEnvelope(t, guestConn).Type)
}

func TestGrantUnknownEmail(t *testing.T) {
	f := newFixture(t)
	owner, conn := f.session(1, "owner")

	f.dispatch(owner, "COLLECTION.GRANT", map[string]any{
		"collection": f.colUUID,
		"email":      "nobody@example.com",
		"visibility": 1,
	}, "")

	env := lastEnvelope(t, conn)
	assert.Equal(t, "COLLECTION.GRANT.BAD_REQUEST", env.Type)

	var payload outcomePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, apperrors.CodeUserNotFound, payload.Code)
}

func TestGrantRequiresOwner(t *testing.T) {
	f := newFixture(t)
	editor, conn := f.session(2, "editor")

	f.dispatch(editor, "COLLECTION.GRANT", map[string]any{
		"collection": f.colUUID,
		"email":      "guest@example.com",
		"visibility": 1,
	}, "")

	assert.Equal(t, "COLLECTION.GRANT.FORBIDDEN", lastEnvelope(t, conn).Type)
}

func TestVisibilityChangeTakesEffect(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.session(1, "owner")
	guest, guestConn := f.session(3, "guest")

	// Private: guest cannot open.
	f.dispatch(guest, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")
	require.Equal(t, "DOC.OPEN.FORBIDDEN", lastEnvelope(t, guestConn).Type)

	f.dispatch(owner, "COLLECTION.VISIBILITY", map[string]any{"collection": f.colUUID, "visibility": 1}, "")

	f.dispatch(guest, "DOC.OPEN", map[string]string{"collection": f.colUUID, "document": "doc"}, "")
	assert.Equal(t, "DOC.OPEN.OK", lastEnvelope(t, guestConn).Type)
}

func TestCollectionNameTooLong(t *testing.T) {
	f := newFixture(t)
	owner, conn := f.session(1, "owner")

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	f.dispatch(owner, "COLLECTION.CREATE", map[string]any{"name": string(long)}, "")

	env := lastEnvelope(t, conn)
	assert.Equal(t, "COLLECTION.CREATE.BAD_REQUEST", env.Type)

	var payload outcomePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, apperrors.CodeNameMax, payload.Code)
}

func TestListCollections(t *testing.T) {
	f := newFixture(t)
	editor, conn := f.session(2, "editor")

	f.dispatch(editor, "COLLECTION.LIST", struct{}{}, "")

	env := lastEnvelope(t, conn)
	require.Equal(t, "COLLECTION.LIST.OK", env.Type)

	var views []collectionView
	require.NoError(t, json.Unmarshal(env.Payload, &views))
	require.Len(t, views, 1, "granted collection missing from list")
	assert.Equal(t, f.colUUID, views[0].UUID)
}

func TestUnknownCollectionIsNotFound(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session(1, "owner")

	f.dispatch(s, "DOC.OPEN", map[string]string{"collection": uuid.NewString(), "document": "doc"}, "")

	assert.Equal(t, "DOC.OPEN.NOT_FOUND", lastEnvelope(t, conn).Type)
}
