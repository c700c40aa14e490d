// Package answering defines the answer-generation contract: a fixed
// question table consulted first and a streaming generator (retrieval
// augmented) behind it.
package answering

import "context"

// Exchange is one completed question/answer pair carried as context to
// the generator.
type Exchange struct {
	Question string
	Answer   string
}

// Stream yields answer text chunks. A generator must stop producing
// once the consumer stops taking chunks or the context is cancelled.
type Stream interface {
	Chunks(ctx context.Context) func(yield func(string, error) bool)
}

// Generator produces streamed answers to a transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string, opts ...GenerateOption) Stream
}

// Document is one retrieved reference passage.
type Document struct {
	ID      string
	Content string
	Score   float64
}

// Retriever finds passages relevant to a query for answer grounding.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}

// Embedder maps text to a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type GenerateOptions struct {
	History []Exchange
}

type GenerateOption func(*GenerateOptions)

func WithHistory(history []Exchange) GenerateOption {
	return func(o *GenerateOptions) {
		o.History = history
	}
}
