package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"claimrelay/internal/participant"
	logx "claimrelay/pkg/logx"
)

// fileStore keeps the registry as one pretty-printed JSON object.
//
// A sibling "<path>.lock" file is held while the store is open so two
// relays pointed at the same file are noticed.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	lock *flock.Flock
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	switch {
	case err != nil:
		log.Warn("store lock unavailable; continuing unlocked", logx.String("path", path), logx.Err(err))
	case !ok:
		log.Warn("store file is locked by another process; writes may interleave", logx.String("path", path))
	default:
		s.lock = lk
	}
	return s, nil
}

func (s *fileStore) Load(ctx context.Context) (map[string]participant.Record, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: err}
	}
	out := map[string]participant.Record{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: err}
	}
	return out, nil
}

func (s *fileStore) Save(ctx context.Context, records map[string]participant.Record) error {
	_ = ctx
	if records == nil {
		records = map[string]participant.Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}
