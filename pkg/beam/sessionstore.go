package beam

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/util"
)

// sessionRecordFilename is the session state persisted between host
// runs, kept under the log directory.
const sessionRecordFilename = "session.json"

// SessionStore persists the session record across host runs: loaded once
// at startup, rewritten after every successful handshake. The record is
// shared between the orchestrator and the backend, so reads and the
// read/modify/write of Update are serialized under one lock.
type SessionStore struct {
	logger *zap.SugaredLogger
	path   string

	mu     sync.Mutex
	record data.SessionRecord
}

// LoadSessionStore reads the record at path. A missing or corrupt file
// yields the zero record with a warning, never an error.
func LoadSessionStore(logger *zap.SugaredLogger, path string) *SessionStore {
	logger = logger.Named("session_store")

	s := &SessionStore{logger: logger, path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugw("No persisted session record, starting fresh", "path", path)
		} else {
			logger.Warnw("Failed to read session record, starting fresh", "path", path, "error", err)
		}
		return s
	}

	if err := json.Unmarshal(raw, &s.record); err != nil {
		logger.Warnw("Session record is corrupt, starting fresh", "path", path, "error", err)
		s.record = data.SessionRecord{}
		return s
	}

	logger.Debugw("Loaded session record", "path", path)

	return s
}

// Record returns a snapshot of the persisted record.
func (s *SessionStore) Record() data.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Update applies mutate to the record and rewrites the file. A write
// failure keeps the in-memory record and is reported to the caller, who
// treats it as a warning.
func (s *SessionStore) Update(mutate func(*data.SessionRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.record)

	raw, err := json.MarshalIndent(&s.record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := util.EnsureDirExists(dir); err != nil {
			return err
		}
	}

	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}

	s.logger.Debugw("Persisted session record", "path", s.path)

	return nil
}
