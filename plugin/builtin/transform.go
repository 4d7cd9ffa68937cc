//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/kianax/engine/plugin"
)

const (
	transformDefaultModel = "gpt-4o-mini"
	transformCredentialID = "openai"
)

const transformSystemPrompt = `You transform structured data. Apply the ` +
	`user's instruction to the provided JSON input and respond with a ` +
	`single JSON object, no prose.`

// AITransform rewrites its gathered inputs with a chat completion. The node
// configures an instruction; the model receives the inputs as JSON and must
// answer with a JSON object, which becomes the output record.
type AITransform struct {
	// newClient overrides client construction in tests.
	newClient func(apiKey, baseURL string) openai.Client
}

// NewAITransform creates the plugin.
func NewAITransform() *AITransform {
	return &AITransform{newClient: newOpenAIClient}
}

func newOpenAIClient(apiKey, baseURL string) openai.Client {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// ID implements plugin.Plugin.
func (*AITransform) ID() string { return "kianax.ai.transform" }

// Metadata implements plugin.Plugin.
func (p *AITransform) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:      p.ID(),
		Name:    "AI Transform",
		Version: "1.0.0",
		Tags:    []string{"ai"},
		CredentialRequirements: []plugin.CredentialRequirement{
			{ID: transformCredentialID, Required: true},
		},
	}
}

// Schemas implements plugin.Plugin. Inputs and outputs are open: the model
// decides the output record's shape.
func (*AITransform) Schemas() plugin.Schemas {
	return plugin.Schemas{
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{"type": "string"},
				"model":       map[string]any{"type": "string"},
			},
			"required": []any{"instruction"},
		},
	}
}

// Execute implements plugin.Plugin.
func (p *AITransform) Execute(ctx context.Context, inv *plugin.Invocation) (map[string]any, error) {
	instruction, _ := inv.Config["instruction"].(string)
	if instruction == "" {
		return nil, fmt.Errorf("ai transform: missing instruction parameter")
	}

	cred, ok := inv.Context.Credentials[transformCredentialID]
	if !ok {
		return nil, fmt.Errorf("ai transform: credential %q not loaded", transformCredentialID)
	}
	apiKey, _ := cred["api_key"].(string)
	if apiKey == "" {
		return nil, fmt.Errorf("ai transform: credential %q has no api_key", transformCredentialID)
	}
	baseURL, _ := cred["base_url"].(string)

	model := transformDefaultModel
	if m, ok := inv.Config["model"].(string); ok && m != "" {
		model = m
	}

	encoded, err := json.Marshal(inv.Inputs)
	if err != nil {
		return nil, fmt.Errorf("ai transform: encoding inputs: %w", err)
	}

	client := p.newClient(apiKey, baseURL)
	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(transformSystemPrompt),
			openai.UserMessage(fmt.Sprintf("Instruction: %s\n\nInput:\n%s", instruction, encoded)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ai transform: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("ai transform: empty completion")
	}

	return decodeTransformResult(completion.Choices[0].Message.Content)
}

// decodeTransformResult parses the model's answer into an output record,
// tolerating markdown code fences around the JSON.
func decodeTransformResult(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return nil, fmt.Errorf("ai transform: model did not return a JSON object: %w", err)
	}
	return record, nil
}
