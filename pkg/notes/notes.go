// Package notes keeps long-term notes that outlive sessions. Notes belong
// to an owner, normally an agent, and are listed newest first.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultLimit caps List and Search when no limit is given.
const DefaultLimit = 10

// Note is one long-term note.
type Note struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists notes in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) a notes database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Save stores a note. A note with an ID that already exists for the same
// owner is updated in place and keeps its creation time.
func (s *Store) Save(ctx context.Context, n Note) (Note, error) {
	n.Owner = strings.TrimSpace(n.Owner)
	n.Title = strings.TrimSpace(n.Title)
	if n.Owner == "" {
		return Note{}, errors.New("note owner is required")
	}
	if n.Title == "" {
		return Note{}, errors.New("note title is required")
	}
	n.Tags = normalizeTags(n.Tags)

	now := s.now().UTC()
	if n.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return Note{}, fmt.Errorf("failed to generate note id: %w", err)
		}
		n.ID = "note_" + id
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, err
	}
	defer tx.Rollback()

	var (
		owner   string
		created int64
	)
	err = tx.QueryRowContext(ctx, "SELECT owner, created_at FROM notes WHERE id = ?", n.ID).Scan(&owner, &created)
	switch {
	case err == nil && owner != n.Owner:
		return Note{}, fmt.Errorf("note %s belongs to another owner", n.ID)
	case err == nil:
		n.CreatedAt = time.Unix(0, created).UTC()
	case errors.Is(err, sql.ErrNoRows):
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
	default:
		return Note{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO notes (id, owner, title, content, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Owner, n.Title, n.Content, strings.Join(n.Tags, ","),
		n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano(),
	); err != nil {
		return Note{}, fmt.Errorf("failed to store note: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Note{}, err
	}
	return n, nil
}

// List returns the newest notes of owner.
func (s *Store) List(ctx context.Context, owner string, limit int) ([]Note, error) {
	return s.query(ctx, "WHERE owner = ?", []interface{}{owner}, limit)
}

// Search returns the newest notes of owner whose title, content or tags
// contain query, ignoring case.
func (s *Store) Search(ctx context.Context, owner, query string, limit int) ([]Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, owner, limit)
	}
	like := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx,
		`WHERE owner = ? AND (lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\' OR lower(tags) LIKE ? ESCAPE '\')`,
		[]interface{}{owner, like, like, like}, limit)
}

// Delete removes a note of owner. It reports whether one was removed.
func (s *Store) Delete(ctx context.Context, owner, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND owner = ?", id, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, where string, args []interface{}, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner, title, content, tags, created_at, updated_at FROM notes "+where+
			" ORDER BY created_at DESC, id ASC LIMIT ?",
		append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var (
			n                Note
			tags             string
			created, updated int64
		)
		if err := rows.Scan(&n.ID, &n.Owner, &n.Title, &n.Content, &tags, &created, &updated); err != nil {
			return nil, err
		}
		n.Tags = splitTags(tags)
		n.CreatedAt = time.Unix(0, created).UTC()
		n.UpdatedAt = time.Unix(0, updated).UTC()
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(t, ",", " ")))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
