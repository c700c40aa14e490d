// Package pgvector implements the answering retriever over a Postgres
// knowledge index with the pgvector extension. Documents are stored by
// an external ingestion path; this package only searches them.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/voxenlabs/voxen-core/core/answering"
)

const defaultTable = "knowledge_passage"

type Retriever struct {
	db       *sql.DB
	embedder answering.Embedder
	table    string
}

type RetrieverOption func(*Retriever)

// WithTable overrides the passage table name.
func WithTable(table string) RetrieverOption {
	return func(r *Retriever) { r.table = table }
}

func NewRetriever(dsn string, embedder answering.Embedder, opts ...RetrieverOption) (*Retriever, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	retriever := &Retriever{db: db, embedder: embedder, table: defaultTable}
	for _, opt := range opts {
		opt(retriever)
	}
	return retriever, nil
}

func (r *Retriever) Close() error { return r.db.Close() }

func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]answering.Document, error) {
	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if topK <= 0 {
		topK = 4
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, r.table),
		pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var docs []answering.Document
	for rows.Next() {
		var doc answering.Document
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
