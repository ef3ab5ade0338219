package services

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/dbx"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/groups"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/users"
)

var errBoom = errors.New("boom")

type memUsers struct {
	mu   sync.Mutex
	rows map[string]*models.User

	// keyLookupsLeft, when set for a user, counts the key lookups that
	// still succeed; later ones fail with errBoom.
	keyLookupsLeft map[string]int
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetPublicKey(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	if left, ok := m.keyLookupsLeft[id]; ok {
		if left == 0 {
			m.mu.Unlock()
			return "", errBoom
		}
		m.keyLookupsLeft[id] = left - 1
	}
	m.mu.Unlock()

	u, err := m.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.PublicKey, nil
}

func (m *memUsers) SetPublicKey(_ context.Context, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	u.PublicKey = key
	return nil
}

func (m *memUsers) SetOnline(_ context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	u.Online = online
	return nil
}

type memMessages struct {
	mu    sync.Mutex
	rows  map[string]*models.Message
	clock time.Time
	err   error
}

func (m *memMessages) Save(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.clock = m.clock.Add(time.Second)
	msg.CreatedAt = m.clock
	cp := *msg
	m.rows[msg.ID] = &cp
	return nil
}

func (m *memMessages) GetByID(_ context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) ListPersonal(_ context.Context, userID, contactID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.rows {
		if msg.Scope != models.ScopePersonal {
			continue
		}
		if (msg.SenderID == userID && msg.RecipientID == contactID) ||
			(msg.SenderID == contactID && msg.RecipientID == userID) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) ListGroup(_ context.Context, groupID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.rows {
		if msg.Scope == models.ScopeGroup && msg.RecipientID == groupID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memGroups map[string][]string

func (g memGroups) MembersOf(_ context.Context, id string) ([]string, error) {
	members, ok := g[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return members, nil
}

func (g memGroups) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	return slices.Contains(g[groupID], userID), nil
}

type memContacts struct {
	mu   sync.Mutex
	rows map[string][]string
}

func (c *memContacts) ContactsOf(_ context.Context, userID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rows[userID]...), nil
}

func (c *memContacts) EnsureContact(_ context.Context, owner, contactID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.rows[owner], contactID) {
		return false, nil
	}
	c.rows[owner] = append(c.rows[owner], contactID)
	return true, nil
}

type fakeRepoManager struct {
	users    *memUsers
	messages *memMessages
	groups   memGroups
	contacts *memContacts
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *fakeRepoManager) Messages(dbx.DBTX) messages.Repository        { return m.messages }
func (m *fakeRepoManager) Groups(dbx.DBTX) groups.Repository            { return m.groups }
func (m *fakeRepoManager) Contacts(dbx.DBTX) contacts.Repository        { return m.contacts }

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type recordingConn struct {
	id string

	mu     sync.Mutex
	events []*rpc.Event
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(_ context.Context, ev *rpc.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) received() []*rpc.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*rpc.Event(nil), c.events...)
}
