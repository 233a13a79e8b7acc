// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient adapts the OpenAI chat completion API behind the Client
// interface. JSON-mode requests use the native json_object response format.
type OpenAIClient struct {
	client *openai.Client
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds an OpenAI adapter from OPENAI_API_KEY.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is missing")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

func (o *OpenAIClient) Provider() string { return ProviderOpenAI }

func (o *OpenAIClient) chatRequest(model string, req Request, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	if req.JSONOutput {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// Generate implements the Client interface.
func (o *OpenAIClient) Generate(ctx context.Context, model string, req Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(model, req, false))
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned empty content")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements the Client interface.
func (o *OpenAIClient) GenerateStream(ctx context.Context, model string, req Request, cb StreamCallback) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(model, req, true))
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if cbErr := cb(StreamEvent{Type: StreamEventToken, Text: delta}); cbErr != nil {
				return cbErr
			}
		}
	}
}
