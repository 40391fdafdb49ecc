package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "zombiecoder.session"

	// DefaultTTL is how long an idle session lives.
	DefaultTTL = 24 * time.Hour

	maxIDLength = 128
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Config configures a Store.
type Config struct {
	// Dir enables JSONL persistence. Empty keeps sessions in memory only.
	Dir string
	// Archive moves the files of expired sessions to Dir/archive instead of deleting them.
	Archive bool
	// TTL is the idle lifetime of a session. Negative disables expiry.
	TTL     time.Duration
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time

	// OnRemove is called with the id of every session that is closed, swept
	// after expiry or replaced after expiry. It runs without store locks held.
	OnRemove func(id string)
}

// Store owns every session. The map lock is held only to find or insert a
// record; reads and appends lock the record itself.
type Store struct {
	dir     string
	archive bool
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	onRemove func(id string)

	mu       sync.RWMutex
	sessions map[string]*record
}

type record struct {
	mu      sync.Mutex
	session Session
	closed  bool
}

// NewStore creates a store and restores persisted sessions from cfg.Dir.
func NewStore(cfg Config) (*Store, error) {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		dir:      cfg.Dir,
		archive:  cfg.Archive,
		ttl:      cfg.TTL,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "session").Logger(),
		now:      cfg.Now,
		onRemove: cfg.OnRemove,
		sessions: make(map[string]*record),
	}

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create sessions directory: %w", err)
		}
		if err := s.restore(); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("dir", s.dir).Int("sessions", s.Len()).Msg("Session store initialized")
	s.PublishMetrics()
	return s, nil
}

// ValidateID reports whether id can name a session.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("session id cannot be empty")
	case len(id) > maxIDLength:
		return fmt.Errorf("session id longer than %d characters", maxIDLength)
	case strings.Contains(id, ".."):
		return fmt.Errorf("session id cannot contain '..'")
	case strings.ContainsAny(id, "/\\"):
		return fmt.Errorf("session id cannot contain path separators")
	case strings.ContainsRune(id, 0):
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func invalidID(op, id string, err error) error {
	return errs.New(errs.CodeInvalidRequest, op, "%v", err).WithDetail("session_id", id)
}

// Load returns a snapshot of session id.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	_, span := tracing.StartSpan(ctx, tracerName, "session.load", attribute.String("session_id", id))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if verr := ValidateID(id); verr != nil {
		err = invalidID("session.Load", id, verr)
		return nil, err
	}

	rec, ok := s.get(id)
	if !ok {
		err = ErrNotFound
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed || s.expired(&rec.session, s.now()) {
		err = ErrNotFound
		return nil, err
	}
	return copySession(&rec.session), nil
}

// Create starts session id for agentID. Creating a live session again
// returns the existing one unchanged.
func (s *Store) Create(ctx context.Context, id, agentID string) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.create",
		attribute.String("session_id", id),
		attribute.String("agent_id", agentID),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if verr := ValidateID(id); verr != nil {
		err = invalidID("session.Create", id, verr)
		return nil, err
	}

	now := s.now()
	for {
		s.mu.Lock()
		rec, ok := s.sessions[id]
		if !ok {
			rec = &record{session: Session{
				ID:           id,
				AgentID:      agentID,
				CreatedAt:    now,
				LastActiveAt: now,
				ExpiresAt:    s.expiry(now),
			}}
			rec.mu.Lock()
			s.sessions[id] = rec
			s.mu.Unlock()

			err = s.writeHeader(&rec.session)
			if err != nil {
				rec.closed = true
				rec.mu.Unlock()
				s.drop(id, rec)
				return nil, err
			}
			snapshot := copySession(&rec.session)
			rec.mu.Unlock()

			s.PublishMetrics()
			logger.Info().Msg("Session created")
			return snapshot, nil
		}
		s.mu.Unlock()

		rec.mu.Lock()
		if !rec.closed && !s.expired(&rec.session, now) {
			snapshot := copySession(&rec.session)
			rec.mu.Unlock()
			return snapshot, nil
		}
		rec.mu.Unlock()

		// an expired or closed record is still in the map; replace it
		s.remove(id, rec)
		s.notifyRemoved(id)
	}
}

// AppendTurn appends the user and agent entries of one completed turn.
func (s *Store) AppendTurn(ctx context.Context, id string, user, agent Entry) error {
	_, span := tracing.StartSpan(ctx, tracerName, "session.append_turn", attribute.String("session_id", id))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if user.Role == "" {
		user.Role = RoleUser
	}
	if agent.Role == "" {
		agent.Role = RoleAgent
	}

	rec, ok := s.get(id)
	if !ok {
		err = ErrNotFound
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := s.now()
	if rec.closed || s.expired(&rec.session, now) {
		err = ErrNotFound
		return err
	}
	if user.Timestamp.IsZero() {
		user.Timestamp = now
	}
	if agent.Timestamp.IsZero() {
		agent.Timestamp = now
	}

	if err = s.appendEntries(id, user, agent); err != nil {
		return err
	}

	rec.session.History = append(rec.session.History, user, agent)
	rec.session.LastActiveAt = now
	rec.session.ExpiresAt = s.expiry(now)
	return nil
}

// Expire removes every session whose expiry is before now and returns how many were removed.
func (s *Store) Expire(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.expire")
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	s.mu.RLock()
	candidates := make(map[string]*record, len(s.sessions))
	for id, rec := range s.sessions {
		candidates[id] = rec
	}
	s.mu.RUnlock()

	removed := 0
	var failed []string
	for id, rec := range candidates {
		rec.mu.Lock()
		dead := rec.closed || s.expired(&rec.session, now)
		if dead {
			rec.closed = true
		}
		rec.mu.Unlock()
		if !dead {
			continue
		}

		if rerr := s.removeFile(id); rerr != nil {
			failed = append(failed, id)
			logger.Warn().Err(rerr).Str("session_id", id).Msg("Failed to remove session file")
		}
		s.drop(id, rec)
		s.notifyRemoved(id)
		removed++
	}

	// sessions that lapsed since the last publish leave the gauge even
	// when nothing was swept
	s.PublishMetrics()
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Expired sessions removed")
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		err = fmt.Errorf("failed to remove files of sessions: %s", strings.Join(failed, ", "))
	}
	return removed, err
}

// Close ends session id and removes its persisted history.
func (s *Store) Close(ctx context.Context, id string) error {
	_, span := tracing.StartSpan(ctx, tracerName, "session.close", attribute.String("session_id", id))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if verr := ValidateID(id); verr != nil {
		err = invalidID("session.Close", id, verr)
		return err
	}

	rec, ok := s.get(id)
	if !ok {
		err = ErrNotFound
		return err
	}
	err = s.remove(id, rec)
	s.notifyRemoved(id)
	if err != nil {
		return err
	}
	s.PublishMetrics()
	s.logger.Info().Str("session_id", id).Msg("Session closed")
	return nil
}

// List returns a summary of every live session, sorted by id.
func (s *Store) List() []Info {
	s.mu.RLock()
	records := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	now := s.now()
	out := make([]Info, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		if !rec.closed && !s.expired(&rec.session, now) {
			out = append(out, Info{
				ID:           rec.session.ID,
				AgentID:      rec.session.AgentID,
				Entries:      len(rec.session.History),
				LastActiveAt: rec.session.LastActiveAt,
				ExpiresAt:    rec.session.ExpiresAt,
			})
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of sessions held, expired ones not yet swept included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) get(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

// drop deletes id from the map when it still maps to rec.
func (s *Store) drop(id string, rec *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[id] == rec {
		delete(s.sessions, id)
	}
}

func (s *Store) remove(id string, rec *record) error {
	rec.mu.Lock()
	rec.closed = true
	err := s.removeFile(id)
	rec.mu.Unlock()
	s.drop(id, rec)
	return err
}

func (s *Store) expiry(from time.Time) time.Time {
	if s.ttl < 0 {
		return time.Time{}
	}
	return from.Add(s.ttl)
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	return !sess.ExpiresAt.IsZero() && !now.Before(sess.ExpiresAt)
}

// Active returns the number of sessions that are neither closed nor expired.
func (s *Store) Active() int {
	s.mu.RLock()
	records := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, rec := range records {
		rec.mu.Lock()
		if !rec.closed && !s.expired(&rec.session, now) {
			n++
		}
		rec.mu.Unlock()
	}
	return n
}

// PublishMetrics sets the active sessions gauge from Active.
func (s *Store) PublishMetrics() {
	s.metrics.SetActiveSessions(s.Active())
}

func (s *Store) notifyRemoved(id string) {
	if s.onRemove != nil {
		s.onRemove(id)
	}
}

func copySession(src *Session) *Session {
	dst := *src
	dst.History = append([]Entry(nil), src.History...)
	return &dst
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

func (s *Store) writeHeader(sess *Session) error {
	if s.dir == "" {
		return nil
	}
	data, err := json.Marshal(fileLine{
		Type:      lineHeader,
		SessionID: sess.ID,
		AgentID:   sess.AgentID,
		CreatedAt: sess.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session header: %w", err)
	}
	return writeLines(s.path(sess.ID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, data)
}

func (s *Store) appendEntries(id string, entries ...Entry) error {
	if s.dir == "" {
		return nil
	}
	lines := make([][]byte, 0, len(entries))
	for i := range entries {
		data, err := json.Marshal(fileLine{Type: lineEntry, Entry: &entries[i]})
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		lines = append(lines, data)
	}
	return writeLines(s.path(id), os.O_APPEND|os.O_WRONLY, lines...)
}

// writeLines writes lines in a single write and syncs the file.
func writeLines(path string, flag int, lines ...[]byte) error {
	var buf []byte
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}

	file, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(buf); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	return nil
}

func (s *Store) removeFile(id string) error {
	if s.dir == "" {
		return nil
	}
	path := s.path(id)
	if s.archive {
		archiveDir := filepath.Join(s.dir, "archive")
		if err := os.MkdirAll(archiveDir, 0700); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		name := fmt.Sprintf("%s-%s.jsonl", id, s.now().UTC().Format("20060102T150405"))
		err := os.Rename(path, filepath.Join(archiveDir, name))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to archive session file: %w", err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// restore loads every session file in the directory.
func (s *Store) restore() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read sessions directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		if ValidateID(id) != nil {
			continue
		}

		sess, err := s.readFile(id)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to restore session, skipping")
			continue
		}
		s.sessions[id] = &record{session: *sess}
	}
	return nil
}

func (s *Store) readFile(id string) (*Session, error) {
	file, err := os.Open(s.path(id))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sess := &Session{ID: id}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line fileLine
		if err := json.Unmarshal(raw, &line); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Int("line", lineNum).Msg("Failed to parse line, skipping")
			continue
		}

		switch line.Type {
		case lineHeader:
			sess.AgentID = line.AgentID
			sess.CreatedAt = line.CreatedAt
		case lineEntry:
			if line.Entry == nil || line.Entry.Role == "" {
				s.logger.Warn().Str("session_id", id).Int("line", lineNum).Msg("Invalid entry, skipping")
				continue
			}
			sess.History = append(sess.History, *line.Entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	sess.LastActiveAt = sess.CreatedAt
	if n := len(sess.History); n > 0 {
		sess.LastActiveAt = sess.History[n-1].Timestamp
	}
	sess.ExpiresAt = s.expiry(sess.LastActiveAt)
	return sess, nil
}
