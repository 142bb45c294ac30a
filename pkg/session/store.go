package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ResetWarning is appended as the first turn of a session whose persisted
// history could not be read back.
const ResetWarning = "Previous conversation history was unreadable and has been reset."

// Store persists conversation turns as JSONL, one file per session key,
// with an in-memory cache of loaded histories.
type Store struct {
	dir    string
	logger zerolog.Logger

	cacheMu sync.RWMutex
	cache   map[string][]Turn

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex
}

// NewStore creates the sessions directory if needed and returns a Store.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("sessions directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	logger = logger.With().Str("component", "session").Logger()
	logger.Info().Str("dir", dir).Msg("Session store initialized")
	return &Store{
		dir:        dir,
		logger:     logger,
		cache:      make(map[string][]Turn),
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".jsonl")
}

func (s *Store) writeLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.writeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.writeLocks[key] = lock
	}
	return lock
}

// Append adds a turn to a session's history and persists it.
func (s *Store) Append(key string, turn Turn) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	s.cacheMu.Lock()
	if turns, ok := s.cache[key]; ok {
		s.cache[key] = append(turns, turn)
	}
	s.cacheMu.Unlock()

	s.logger.Debug().Str("session_key", key).Str("role", turn.Role).Msg("Turn appended")
	return nil
}

// Load returns a session's full history. Corrupted lines are skipped with a
// warning; a file that cannot be read at all resets the session to a single
// warning turn.
func (s *Store) Load(key string) ([]Turn, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.cacheMu.RLock()
	if turns, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		out := make([]Turn, len(turns))
		copy(out, turns)
		return out, nil
	}
	s.cacheMu.RUnlock()

	path := s.path(key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []Turn{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return s.reset(key, err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			s.logger.Warn().
				Str("session_key", key).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}
		if turn.Role == "" {
			s.logger.Warn().
				Str("session_key", key).
				Int("line", lineNum).
				Msg("Turn missing role, skipping")
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return s.reset(key, err)
	}

	s.cacheMu.Lock()
	s.cache[key] = turns
	s.cacheMu.Unlock()

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// reset moves an unreadable session file aside and starts the history over
// with a single warning turn so the model knows context was lost.
func (s *Store) reset(key string, cause error) ([]Turn, error) {
	s.logger.Warn().Str("session_key", key).Err(cause).Msg("Session unreadable, resetting")

	lock := s.writeLock(key)
	lock.Lock()
	path := s.path(key)
	if err := os.Rename(path, path+".corrupt"); err != nil && !os.IsNotExist(err) {
		os.Remove(path)
	}
	lock.Unlock()

	s.cacheMu.Lock()
	s.cache[key] = nil
	s.cacheMu.Unlock()

	warning := NewTurn(RoleSystem, ResetWarning)
	if err := s.Append(key, warning); err != nil {
		return nil, fmt.Errorf("failed to persist reset warning: %w", err)
	}
	return []Turn{warning}, nil
}

// Delete removes a session's history from disk and cache.
func (s *Store) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.cacheMu.Lock()
	delete(s.cache, key)
	s.cacheMu.Unlock()

	s.locksMu.Lock()
	delete(s.writeLocks, key)
	s.locksMu.Unlock()

	s.logger.Info().Str("session_key", key).Msg("Session deleted")
	return nil
}

// List returns the keys of all persisted sessions.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	return keys, nil
}

// Close drops the cache and write locks.
func (s *Store) Close() error {
	s.cacheMu.Lock()
	s.cache = make(map[string][]Turn)
	s.cacheMu.Unlock()

	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	return nil
}
