// File: internal/evolution/session.go
package evolution

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionStore persists the evolution session across CLI invocations so the
// sticky manual-intervention flag and the per-session change count survive
// process restarts.
type SessionStore struct {
	logger      *zap.Logger
	mu          sync.Mutex
	path        string
	maxAttempts int
}

// NewSessionStore creates a store over the configured state path.
func NewSessionStore(logger *zap.Logger, cfg config.SessionConfig, repair config.RepairConfig) *SessionStore {
	return &SessionStore{
		logger:      logger.Named("session"),
		path:        cfg.StatePath,
		maxAttempts: repair.MaxAttempts,
	}
}

// Load reads the persisted session, starting a fresh one when no state file
// exists yet.
func (s *SessionStore) Load() (schemas.EvolutionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SessionStore) loadLocked() (schemas.EvolutionSession, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.fresh(), nil
	}
	if err != nil {
		return schemas.EvolutionSession{}, fmt.Errorf("failed to read session state %q: %w", s.path, err)
	}

	var sess schemas.EvolutionSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return schemas.EvolutionSession{}, fmt.Errorf("session state %q is corrupt: %w", s.path, err)
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.RepairMaxAttempts == 0 {
		sess.RepairMaxAttempts = s.maxAttempts
	}
	return sess, nil
}

func (s *SessionStore) fresh() schemas.EvolutionSession {
	return schemas.EvolutionSession{
		ID:                uuid.NewString(),
		StartedAtMS:       schemas.NowMS(),
		RepairMaxAttempts: s.maxAttempts,
	}
}

// Save persists the session atomically (temp file + rename).
func (s *SessionStore) Save(sess schemas.EvolutionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(sess)
}

func (s *SessionStore) saveLocked(sess schemas.EvolutionSession) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session state directory: %w", err)
	}
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session state: %w", err)
	}
	return nil
}

// Acknowledge clears the sticky manual-intervention flag and resets the
// repair attempt counter. The operator runs this after resolving whatever
// condition escalated.
func (s *SessionStore) Acknowledge() (schemas.EvolutionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadLocked()
	if err != nil {
		return schemas.EvolutionSession{}, err
	}
	if !sess.ManualInterventionRequired {
		return sess, nil
	}

	sess.ManualInterventionRequired = false
	sess.RepairAttempt = 0
	sess.LastNote = "manual intervention acknowledged"
	if err := s.saveLocked(sess); err != nil {
		return schemas.EvolutionSession{}, err
	}
	s.logger.Info("Manual intervention acknowledged.", zap.String("session_id", sess.ID))
	return sess, nil
}

// Reset discards the persisted session and starts a new one.
func (s *SessionStore) Reset() (schemas.EvolutionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.fresh()
	if err := s.saveLocked(sess); err != nil {
		return schemas.EvolutionSession{}, err
	}
	s.logger.Info("Session reset.", zap.String("session_id", sess.ID))
	return sess, nil
}
