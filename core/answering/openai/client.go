// Package openai implements the answering contract with the OpenAI
// chat-completion API: a structured retrieval decision, similarity
// search through the configured retriever, then a streamed answer.
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
	"github.com/voxenlabs/voxen-core/core/answering"
)

const (
	defaultChatModel      = openai.GPT4oMini
	defaultEmbeddingModel = string(openai.SmallEmbedding3)
	defaultTopK           = 4
)

const defaultSystemPrompt = "You are a voice assistant. Answer briefly " +
	"and conversationally; the reply will be spoken aloud. Use the " +
	"provided reference passages when they are relevant and say so when " +
	"they are not sufficient."

type Generator struct {
	client       *openai.Client
	chatModel    string
	systemPrompt string

	retriever answering.Retriever
	topK      int
}

type GeneratorOption func(*Generator)

func WithChatModel(model string) GeneratorOption {
	return func(g *Generator) { g.chatModel = model }
}

func WithSystemPrompt(prompt string) GeneratorOption {
	return func(g *Generator) { g.systemPrompt = prompt }
}

// WithRetriever enables retrieval augmentation; without it the
// generator answers from the model alone.
func WithRetriever(retriever answering.Retriever, topK int) GeneratorOption {
	return func(g *Generator) {
		g.retriever = retriever
		if topK > 0 {
			g.topK = topK
		}
	}
}

func NewGenerator(opts ...GeneratorOption) (*Generator, error) {
	apiKey, ok := os.LookupEnv("OPENAI_API_KEY")
	if !ok {
		return nil, fmt.Errorf("openai api key not found")
	}

	generator := &Generator{
		client:       openai.NewClient(apiKey),
		chatModel:    defaultChatModel,
		systemPrompt: defaultSystemPrompt,
		topK:         defaultTopK,
	}
	for _, opt := range opts {
		opt(generator)
	}
	return generator, nil
}

func (g *Generator) Generate(_ context.Context, transcript string, opts ...answering.GenerateOption) answering.Stream {
	options := answering.GenerateOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &stream{
		generator:  g,
		transcript: transcript,
		options:    options,
	}
}

// Embedder implements answering.Embedder with the OpenAI embeddings
// endpoint.
type Embedder struct {
	client *openai.Client
	model  string
}

func NewEmbedder(model string) (*Embedder, error) {
	apiKey, ok := os.LookupEnv("OPENAI_API_KEY")
	if !ok {
		return nil, fmt.Errorf("openai api key not found")
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{client: openai.NewClient(apiKey), model: model}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}
