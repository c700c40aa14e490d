package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"
)

const retrievalDecisionPrompt = "Decide whether answering the user's " +
	"question requires searching the knowledge base. If it does, produce " +
	"a short search query capturing what to look for."

// retrievalDecision is the structured output of the pre-generation
// retrieval check.
type retrievalDecision struct {
	ShouldSearch bool   `json:"should_search" jsonschema_description:"Whether the knowledge base should be searched"`
	Query        string `json:"query" jsonschema_description:"Search query to run when should_search is true"`
}

func (g *Generator) decideRetrieval(ctx context.Context, transcript string) (*retrievalDecision, error) {
	ctx, span := tracer.Start(ctx, "decide retrieval")
	defer span.End()

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&retrievalDecision{})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: retrievalDecisionPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "retrieval_decision",
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prompt for retrieval decision: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty retrieval decision response")
	}

	var decision retrievalDecision
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retrieval decision: %w", err)
	}
	return &decision, nil
}
