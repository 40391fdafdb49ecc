package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteIndex stores chunks in SQLite and their vectors in a vec0 table.
type SQLiteIndex struct {
	db        *sql.DB
	dimension int
}

// OpenSQLiteIndex opens (creating if needed) an index at path.
func OpenSQLiteIndex(path string, dimension int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &SQLiteIndex{db: db, dimension: dimension}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
			doc_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteIndex) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteIndex) Upsert(ctx context.Context, doc Document, embedding []float32) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(embedding), s.dimension)
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO documents (id, source, content, updated_at) VALUES (?, ?, ?, ?)",
		doc.ID, doc.Source, doc.Content, doc.UpdatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	// vec0 tables do not support REPLACE
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE doc_id = ?", doc.ID); err != nil {
		return fmt.Errorf("failed to clear embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO embeddings (doc_id, embedding) VALUES (?, ?)", doc.ID, blob,
	); err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteIndex) DeleteSource(ctx context.Context, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM embeddings WHERE doc_id IN (SELECT id FROM documents WHERE source = ?)", source,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE source = ?", source); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize embedding: %w", err)
	}
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			d.id,
			d.source,
			d.content,
			d.updated_at,
			vec_distance_cosine(e.embedding, ?) AS distance
		FROM embeddings e
		JOIN documents d ON d.id = e.doc_id
		ORDER BY distance ASC, d.updated_at DESC, d.id ASC
		LIMIT ?
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r         Result
			updatedAt int64
			distance  float64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Content, &updatedAt, &distance); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.Unix(0, updatedAt)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
