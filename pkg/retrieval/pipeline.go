package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Config tunes the pipeline. Zero values select defaults, except
// MinSimilarity which is used as given.
type Config struct {
	TopK            int
	MinSimilarity   float64
	ChunkSize       int
	ChunkOverlap    int
	MaxContextChars int
	Extensions      []string
	Concurrency     int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		TopK:            5,
		MinSimilarity:   0.7,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		MaxContextChars: 4000,
		Extensions:      []string{".md", ".txt"},
		Concurrency:     4,
	}
}

// Pipeline embeds queries and documents and talks to the vector index.
type Pipeline struct {
	embedder Embedder
	index    Index
	config   Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline. m may be nil.
func NewPipeline(embedder Embedder, index Index, config Config, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	def := DefaultConfig()
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.ChunkOverlap <= 0 {
		config.ChunkOverlap = def.ChunkOverlap
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	if config.MaxContextChars <= 0 {
		config.MaxContextChars = def.MaxContextChars
	}
	if len(config.Extensions) == 0 {
		config.Extensions = def.Extensions
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}

	return &Pipeline{
		embedder: embedder,
		index:    index,
		config:   config,
		metrics:  m,
		logger:   logger.With().Str("component", "retrieval").Logger(),
	}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Retrieve returns up to k chunks similar to query, best first. An empty
// index or no chunk above the similarity threshold yields an empty slice.
// Embedding or index failures are reported as RetrievalUnavailable.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	const op = "retrieval.Retrieve"

	ctx, span := tracing.StartSpan(ctx, "zombiecoder.retrieval", "retrieval.retrieve",
		attribute.Int("k", k),
	)
	results, err := p.retrieve(ctx, op, query, k)
	tracing.EndSpan(span, err)

	switch {
	case err != nil:
		p.metrics.RecordRetrieval(metrics.OutcomeError)
	case len(results) == 0:
		p.metrics.RecordRetrieval(metrics.OutcomeEmpty)
	default:
		p.metrics.RecordRetrieval(metrics.OutcomeSuccess)
	}
	return results, err
}

func (p *Pipeline) retrieve(ctx context.Context, op, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = p.config.TopK
	}

	query = NormalizeQuery(query)
	if query == "" {
		return []Result{}, nil
	}

	n, err := p.index.Count(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.CodeRetrievalUnavailable, op, err)
	}
	if n == 0 {
		return []Result{}, nil
	}

	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.CodeRetrievalUnavailable, op, err)
	}

	matches, err := p.index.Query(ctx, embedding, k)
	if err != nil {
		return nil, errs.Wrap(errs.CodeRetrievalUnavailable, op, err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Score >= p.config.MinSimilarity {
			results = append(results, m)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return less(results[i], results[j]) })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Ingest replaces every chunk of source with chunks of text. It returns the
// number of chunks stored.
func (p *Pipeline) Ingest(ctx context.Context, source, text string, updatedAt time.Time) (int, error) {
	if err := p.index.DeleteSource(ctx, source); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", source, err)
	}

	stored := 0
	for i, chunk := range SplitText(text, p.config.ChunkSize, p.config.ChunkOverlap) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		embedding, err := p.embedder.Embed(ctx, chunk)
		if err != nil {
			return stored, fmt.Errorf("failed to embed %s chunk %d: %w", source, i, err)
		}
		doc := Document{
			ID:        chunkID(source, i),
			Source:    source,
			Content:   chunk,
			UpdatedAt: updatedAt,
		}
		if err := p.index.Upsert(ctx, doc, embedding); err != nil {
			return stored, fmt.Errorf("failed to index %s chunk %d: %w", source, i, err)
		}
		stored++
	}
	return stored, nil
}

// IngestDir ingests every file under dir with an accepted extension. Sources
// are paths relative to dir; a file's modification time is its recency.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if p.accepts(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, path := range files {
		path := path
		g.Go(func() error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				rel = path
			}
			_, err = p.Ingest(gctx, filepath.ToSlash(rel), string(data), info.ModTime())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	p.logger.Info().
		Str("dir", dir).
		Int("files", len(files)).
		Msg("Knowledge directory indexed")
	return len(files), nil
}

func (p *Pipeline) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range p.config.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FormatContext renders results as "[source]\ncontent" blocks, stopping
// before the total content would exceed maxChars.
func FormatContext(results []Result, maxChars int) string {
	parts := make([]string, 0, len(results))
	total := 0
	for _, r := range results {
		if maxChars > 0 && total+len(r.Content) > maxChars {
			break
		}
		source := r.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, "["+source+"]\n"+r.Content)
		total += len(r.Content)
	}
	return strings.Join(parts, "\n\n")
}

// NormalizeQuery lowercases and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// SplitText cuts text into chunks of at most size bytes overlapping by
// overlap bytes, preferring to end a chunk at a sentence or word boundary.
func SplitText(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		for end > start && !strings.ContainsRune(".!?\n ", rune(text[end])) {
			end--
		}
		if end == start {
			end = start + size
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
		}

		chunks = append(chunks, text[start:end])

		next := end - overlap
		if next <= start {
			next = end
		}
		for next < end && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return chunks
}

func chunkID(source string, i int) string {
	sum := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%s-%04d", hex.EncodeToString(sum[:8]), i)
}
