package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pavelanni/markbook/internal/model"
)

// Memory is a process-local Backend. Data is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]model.ExamRecord
	users    map[int64]model.User
	sessions map[string]model.AuthSession
	nextUser int64
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]model.ExamRecord),
		users:    make(map[int64]model.User),
		sessions: make(map[string]model.AuthSession),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateRecord(_ context.Context, rec model.ExamRecord) (model.ExamRecord, error) {
	rec = prepareNewRecord(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return rec, fmt.Errorf("record %s: %w", rec.ID, ErrDuplicate)
	}
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *Memory) GetRecord(_ context.Context, id string) (*model.ExamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) UpdateRecord(_ context.Context, id string, fn func(*model.ExamRecord) error) (*model.ExamRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyUpdate(cur, fn)
	if err != nil {
		return nil, err
	}
	m.records[id] = next
	return &next, nil
}

func (m *Memory) ListRecords(_ context.Context, filter RecordFilter) ([]model.ExamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ExamRecord
	for _, rec := range m.records {
		if filter.UserID != nil && (rec.UserID == nil || *rec.UserID != *filter.UserID) {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, u model.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return 0, fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	u.CreatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return u.ID, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) UserCount(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *Memory) CreateAuthSession(_ context.Context, userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = model.AuthSession{ID: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(authSessionTTL)}
	return token, nil
}

func (m *Memory) GetAuthSession(_ context.Context, token string) (*model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return nil, nil
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(m.sessions, token)
		return nil, nil
	}
	return &sess, nil
}

func (m *Memory) DeleteAuthSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *Memory) CleanupExpiredSessions(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for token, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, token)
		}
	}
	return nil
}
