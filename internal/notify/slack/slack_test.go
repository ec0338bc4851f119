package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/orchestrator"
)

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	notice := &Notice{
		WorkflowID: "01JN123",
		AlertName:  "Suspicious sign-in burst",
		Reason:     "stage_retries_exhausted",
		Stage:      "respond",
		Priority:   "High",
		Detail:     "stage respond failed after 3 attempts",
		OccurredAt: time.Date(2026, 8, 28, 14, 23, 0, 0, time.UTC),
	}

	if err := n.Send(context.Background(), notice); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, detail, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "stage retries exhausted") {
		t.Errorf("header text = %q, want humanized reason", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for High priority")
	}

	ctxBlock := blocks[6].(map[string]any)
	ctxText := ctxBlock["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "workflow 01JN123") {
		t.Errorf("context text = %q, want workflow ID", ctxText)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.Send(context.Background(), &Notice{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongDetail(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Send(context.Background(), &Notice{
		WorkflowID: "01JN456",
		Reason:     "workflow_stalled",
		Detail:     strings.Repeat("x", 4000),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	detail := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if len(detail) > maxDetailLen+20 {
		t.Errorf("detail length = %d, want truncated near %d", len(detail), maxDetailLen)
	}
	if !strings.HasSuffix(detail, "...") {
		t.Error("truncated detail should end with ellipsis")
	}
}

func TestSend_ErrorOnNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "channel_not_found", http.StatusNotFound)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Send(context.Background(), &Notice{WorkflowID: "01JN789", Reason: "workflow_stalled"})
	if err == nil {
		t.Fatal("want error on 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want status code", err)
	}
}

func TestHandleEscalation_DeliversEventPayload(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev, err := orchestrator.NewEvent(orchestrator.KindEscalationRequired, "wf-1", orchestrator.EscalationPayload{
		Reason:   orchestrator.ReasonWorkflowStalled,
		Priority: "Medium",
		Detail:   "no progress for 15m",
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	n := New(srv.URL, log.Nop())
	n.HandleEscalation(context.Background(), ev)

	if got == nil {
		t.Fatal("webhook never called")
	}
	blocks := got["blocks"].([]any)
	headerText := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "workflow stalled") {
		t.Errorf("header = %q, want stall reason", headerText)
	}
}
