// Package retrieval implements the knowledge retrieval pipeline: text is
// chunked, embedded and stored in a vector index, and queries return the
// nearest chunks ordered by similarity, then by source recency.
//
// Two index implementations are provided. SQLiteIndex keeps vectors in a
// sqlite-vec vec0 table next to a documents table; MemoryIndex is a
// brute-force cosine index for tests and small corpora.
package retrieval
