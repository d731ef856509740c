package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "nova/pkg/logx"
)

// fileStore keeps state in memory and makes it durable with plain files:
//   - <prefix>.audit.jsonl          append-only audit log
//   - <prefix>.state.snapshot.json  accounts and tasks at the last compaction
//   - <prefix>.state.journal.jsonl  mutations since the snapshot
//
// The journal is folded into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger
	mem *memoryStore

	mu           sync.Mutex
	auditPath    string
	auditFile    *os.File
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type stateSnapshot struct {
	Accounts []Account `json:"accounts"`
	Tasks    []Task    `json:"tasks"`
}

type journalRecord struct {
	Op      string   `json:"op"`
	Account *Account `json:"account,omitempty"`
	Task    *Task    `json:"task,omitempty"`
}

const (
	opPutAccount = "put_account"
	opAddTask    = "add_task"
	opDelTask    = "del_task"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		mem:          NewMemory().(*memoryStore),
		auditPath:    prefix + ".audit.jsonl",
		snapshotPath: prefix + ".state.snapshot.json",
		compactEvery: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	journalPath := prefix + ".state.journal.jsonl"
	if n, err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	} else if n > 0 {
		log.Info("journal replayed", logx.Int("records", n))
	}

	var err error
	if s.auditFile, err = os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, err
	}
	if s.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		_ = s.auditFile.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap stateSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, a := range snap.Accounts {
		s.mem.accounts[a.ChatID] = a
	}
	for _, t := range snap.Tasks {
		s.mem.tasks[t.ID] = t
	}
	return nil
}

// replayJournal applies journal records on top of the snapshot. A torn last
// line is skipped.
func (s *fileStore) replayJournal(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch {
		case r.Op == opPutAccount && r.Account != nil:
			s.mem.accounts[r.Account.ChatID] = *r.Account
		case r.Op == opAddTask && r.Task != nil:
			s.mem.tasks[r.Task.ID] = *r.Task
		case r.Op == opDelTask && r.Task != nil:
			delete(s.mem.tasks, r.Task.ID)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}

// appendJournalLocked must run under s.mu, together with the memory update,
// so journal order matches apply order.
func (s *fileStore) appendJournalLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) PutAccount(ctx context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.PutAccount(ctx, a); err != nil {
		return err
	}
	stored, err := s.mem.GetAccount(ctx, a.ChatID)
	if err != nil {
		return err
	}
	return s.appendJournalLocked(journalRecord{Op: opPutAccount, Account: &stored})
}

func (s *fileStore) GetAccount(ctx context.Context, chatID int64) (Account, error) {
	return s.mem.GetAccount(ctx, chatID)
}

func (s *fileStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.mem.ListAccounts(ctx)
}

func (s *fileStore) AddTask(ctx context.Context, t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Task{}, ErrClosed
	}
	stored, err := s.mem.AddTask(ctx, t)
	if err != nil {
		return Task{}, err
	}
	return stored, s.appendJournalLocked(journalRecord{Op: opAddTask, Task: &stored})
}

func (s *fileStore) ListTasks(ctx context.Context, chatID int64) ([]Task, error) {
	return s.mem.ListTasks(ctx, chatID)
}

func (s *fileStore) DeleteTask(ctx context.Context, chatID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.mem.DeleteTask(ctx, chatID, id); err != nil {
		return err
	}
	return s.appendJournalLocked(journalRecord{Op: opDelTask, Task: &Task{ID: id, ChatID: chatID}})
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.mem.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) ListAudit(_ context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil, ErrClosed
	}
	f, err := os.Open(s.auditPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []AuditEntry
	dec := json.NewDecoder(f)
	for {
		var e AuditEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		all = append(all, e)
	}
	return tailAudit(all, chatID, limit), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	_ = s.mem.Close()
	return errors.Join(errs...)
}

// compactLocked writes a fresh snapshot and truncates the journal.
func (s *fileStore) compactLocked() error {
	s.mem.mu.Lock()
	snap := stateSnapshot{
		Accounts: make([]Account, 0, len(s.mem.accounts)),
		Tasks:    make([]Task, 0, len(s.mem.tasks)),
	}
	for _, a := range s.mem.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	for _, t := range s.mem.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	s.mem.mu.Unlock()
	sortAccounts(snap.Accounts)
	sortTasks(snap.Tasks)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}
