package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpTimeout = 10 * time.Second

// Webhook posts actions to a remediation endpoint. The endpoint is
// expected to apply the action synchronously and answer 2xx.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook executor for the given endpoint URL.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
	}
}

type webhookRequest struct {
	WorkflowID string `json:"workflow_id"`
	Action     string `json:"action"`
	Target     string `json:"target"`
}

// Execute POSTs the action. Non-2xx responses are errors so the
// coordinator's retry policy applies.
func (w *Webhook) Execute(ctx context.Context, workflowID, actionType, target string) (*Result, error) {
	body, err := json.Marshal(webhookRequest{
		WorkflowID: workflowID,
		Action:     actionType,
		Target:     target,
	})
	if err != nil {
		return nil, fmt.Errorf("action: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("action: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("action: post %s: %w", actionType, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("action: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	return &Result{Status: StatusSucceeded, Detail: fmt.Sprintf("%s applied to %s", actionType, target)}, nil
}
