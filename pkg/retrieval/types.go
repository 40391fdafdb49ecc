package retrieval

import (
	"context"
	"time"
)

// Document is one indexed chunk.
type Document struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result is a retrieved chunk with its similarity to the query.
type Result struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Index stores document embeddings and answers nearest-neighbour queries.
// Query returns at most k results ordered by score descending, then
// UpdatedAt descending, then ID.
type Index interface {
	Upsert(ctx context.Context, doc Document, embedding []float32) error
	DeleteSource(ctx context.Context, source string) error
	Query(ctx context.Context, embedding []float32, k int) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}
