package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps everything in maps. The zero value is not usable; see NewMemory.
type memoryStore struct {
	mu       sync.Mutex
	closed   bool
	accounts map[int64]Account
	tasks    map[string]Task
	audit    []AuditEntry
	now      func() time.Time
}

func NewMemory() Store {
	return &memoryStore{
		accounts: map[int64]Account{},
		tasks:    map[string]Task{},
		now:      time.Now,
	}
}

func (s *memoryStore) PutAccount(_ context.Context, a Account) error {
	if err := validateAccount(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := s.now()
	if old, ok := s.accounts[a.ChatID]; ok {
		a.CreatedAt = old.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.accounts[a.ChatID] = a
	return nil
}

func (s *memoryStore) GetAccount(_ context.Context, chatID int64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Account{}, ErrClosed
	}
	a, ok := s.accounts[chatID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *memoryStore) ListAccounts(context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sortAccounts(out)
	return out, nil
}

func (s *memoryStore) AddTask(_ context.Context, t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Task{}, ErrClosed
	}
	t, err := prepareTask(t, s.now())
	if err != nil {
		return Task{}, err
	}
	s.tasks[t.ID] = t
	return t, nil
}

func (s *memoryStore) ListTasks(_ context.Context, chatID int64) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Task
	for _, t := range s.tasks {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *memoryStore) DeleteTask(_ context.Context, chatID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t, ok := s.tasks[id]
	if !ok || t.ChatID != chatID {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) ListAudit(_ context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return tailAudit(s.audit, chatID, limit), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
