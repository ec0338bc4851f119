// Package claude provides a Claude-backed explanation provider. It only
// writes rationale prose; decisions are made upstream by the rule engine
// and are never delegated to the model.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/warden/internal/explain"
)

const systemPrompt = `You are a SOC triage assistant. You are given a security
alert, its deterministic risk score with a factor breakdown, and the decision
already made by the triage engine. Write a concise rationale (2-4 sentences)
explaining the decision in terms of the provided factors. Do not second-guess
the decision, do not invent facts, and do not recommend different actions.`

// Provider calls the Anthropic Messages API to render rationales.
type Provider struct {
	client anthropic.Client
	model  string
}

// New creates a provider for the given API key and model.
func New(apiKey, model string) *Provider {
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Explain renders a rationale. Errors bubble up; the caller falls back
// to the static provider.
func (p *Provider) Explain(ctx context.Context, req explain.Request) (string, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return "", err
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages.new: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("empty completion for alert %s", req.Alert.ID)
	}
	return text, nil
}

func buildPrompt(req explain.Request) (string, error) {
	doc := map[string]any{
		"alert": map[string]any{
			"name":       req.Alert.Name,
			"severity":   req.Alert.Severity,
			"category":   req.Alert.Category,
			"entities":   req.Alert.Entities,
			"techniques": req.Alert.Techniques,
			"confidence": req.Alert.Confidence,
		},
		"score": map[string]any{
			"value":     req.Score.Value,
			"tier":      req.Score.Tier,
			"breakdown": req.Score.Breakdown,
		},
		"decision":             req.Decision,
		"correlation_set_size": req.SetSize,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	return string(b), nil
}
