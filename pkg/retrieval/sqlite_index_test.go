package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteIndex(t *testing.T) {
	ctx := context.Background()
	embedder := NewHashEmbedder(32)

	idx, err := OpenSQLiteIndex(filepath.Join(t.TempDir(), "knowledge.db"), embedder.Dimension())
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Ping(ctx))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "a", Source: "old.md", Content: "graceful shutdown", UpdatedAt: base},
		{ID: "b", Source: "new.md", Content: "graceful shutdown", UpdatedAt: base.Add(time.Hour)},
		{ID: "c", Source: "other.md", Content: "connection pooling", UpdatedAt: base},
	}
	for _, d := range docs {
		vec, err := embedder.Embed(ctx, d.Content)
		require.NoError(t, err)
		require.NoError(t, idx.Upsert(ctx, d, vec))
	}
	// upsert twice keeps one row
	vec, _ := embedder.Embed(ctx, docs[0].Content)
	require.NoError(t, idx.Upsert(ctx, docs[0], vec))

	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	query, _ := embedder.Embed(ctx, "graceful shutdown")
	results, err := idx.Query(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "a", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.True(t, results[0].UpdatedAt.Equal(base.Add(time.Hour)))

	require.NoError(t, idx.DeleteSource(ctx, "new.md"))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Error(t, idx.Upsert(ctx, Document{ID: "x"}, []float32{1, 2}))
}

func TestSQLiteIndex_WithPipeline(t *testing.T) {
	ctx := context.Background()
	embedder := NewHashEmbedder(64)

	idx, err := OpenSQLiteIndex(filepath.Join(t.TempDir(), "knowledge.db"), embedder.Dimension())
	require.NoError(t, err)
	defer idx.Close()

	p := NewPipeline(embedder, idx, DefaultConfig(), nil, zerolog.Nop())
	_, err = p.Ingest(ctx, "errors.md", "wrap errors with context", time.Now())
	require.NoError(t, err)

	results, err := p.Retrieve(ctx, "wrap errors with context", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "errors.md", results[0].Source)
}
