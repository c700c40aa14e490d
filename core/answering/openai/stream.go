package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/sashabaranov/go-openai"
	"github.com/voxenlabs/voxen-core/core/answering"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type stream struct {
	generator  *Generator
	transcript string
	options    answering.GenerateOptions
}

// contextDoc mirrors answering.Document for prompt building.
type contextDoc struct {
	ID      string
	Content string
	Score   float64
}

func (s *stream) Chunks(ctx context.Context) func(yield func(string, error) bool) {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "generate answer stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.generator.chatModel))

		var docs []contextDoc
		if s.generator.retriever != nil {
			decision, err := s.generator.decideRetrieval(ctx, s.transcript)
			if err != nil {
				// Retrieval decisions are advisory; fall back to searching
				// with the transcript itself.
				span.RecordError(err)
				decision = &retrievalDecision{ShouldSearch: true, Query: s.transcript}
			}
			span.SetAttributes(attribute.Bool("retrieval.requested", decision.ShouldSearch))

			if decision.ShouldSearch {
				retrieved, err := s.generator.retriever.Retrieve(ctx, decision.Query, s.generator.topK)
				if err != nil {
					err = fmt.Errorf("failed to retrieve reference passages: %w", err)
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					yield("", err)
					return
				}
				if err := copier.Copy(&docs, retrieved); err != nil {
					span.RecordError(fmt.Errorf("failed to copy retrieved passages: %w", err))
				}
				span.SetAttributes(attribute.Int("retrieval.documents", len(docs)))
			}
		}

		completionStream, err := s.generator.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    s.generator.chatModel,
			Messages: s.buildMessages(docs),
			Stream:   true,
		})
		if err != nil {
			err = fmt.Errorf("failed to open completion stream: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
			return
		}
		defer completionStream.Close()

		firstChunk := true
		for {
			response, err := completionStream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				err = fmt.Errorf("completion stream failed: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield("", err)
				return
			}
			if len(response.Choices) == 0 {
				continue
			}

			if firstChunk {
				span.AddEvent("received first chunk", trace.WithAttributes())
				firstChunk = false
			}
			if delta := response.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
	}
}

func (s *stream) buildMessages(docs []contextDoc) []openai.ChatCompletionMessage {
	systemPrompt := s.generator.systemPrompt
	if len(docs) > 0 {
		var b strings.Builder
		b.WriteString(systemPrompt)
		b.WriteString("\n\nReference passages:\n")
		for _, doc := range docs {
			b.WriteString("- ")
			b.WriteString(doc.Content)
			b.WriteString("\n")
		}
		systemPrompt = b.String()
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, exchange := range s.options.History {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: exchange.Question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: exchange.Answer},
		)
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: s.transcript,
	})
}
