package action

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// countingExecutor records every call and can be told to fail.
type countingExecutor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *countingExecutor) Execute(_ context.Context, _, _, _ string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return nil, errors.New("endpoint down")
	}
	return &Result{Status: StatusSucceeded}, nil
}

func TestIdempotent_SecondDispatchDoesNotExecute(t *testing.T) {
	t.Parallel()

	inner := &countingExecutor{}
	exec := NewIdempotent(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := exec.Execute(ctx, "wf-1", "isolate-endpoint", "web-01")
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if r.Status != StatusSucceeded {
			t.Fatalf("status = %q, want Succeeded", r.Status)
		}
	}

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.calls != 1 {
		t.Errorf("inner executed %d times, want 1", inner.calls)
	}
}

func TestIdempotent_DistinctKeysExecuteSeparately(t *testing.T) {
	t.Parallel()

	inner := &countingExecutor{}
	exec := NewIdempotent(inner)
	ctx := context.Background()

	_, _ = exec.Execute(ctx, "wf-1", "isolate-endpoint", "web-01")
	_, _ = exec.Execute(ctx, "wf-1", "isolate-endpoint", "web-02")
	_, _ = exec.Execute(ctx, "wf-2", "isolate-endpoint", "web-01")

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.calls != 3 {
		t.Errorf("inner executed %d times, want 3", inner.calls)
	}
}

func TestIdempotent_FailureIsRetryable(t *testing.T) {
	t.Parallel()

	inner := &countingExecutor{fail: true}
	exec := NewIdempotent(inner)
	ctx := context.Background()

	if _, err := exec.Execute(ctx, "wf-1", "disable-account", "svc-1"); err == nil {
		t.Fatal("expected error from failing executor")
	}

	inner.mu.Lock()
	inner.fail = false
	inner.mu.Unlock()

	r, err := exec.Execute(ctx, "wf-1", "disable-account", "svc-1")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if r.Status != StatusSucceeded {
		t.Errorf("status = %q, want Succeeded", r.Status)
	}
	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.calls != 2 {
		t.Errorf("inner executed %d times, want 2 (failure must not be cached)", inner.calls)
	}
}

func TestWebhook_Execute(t *testing.T) {
	t.Parallel()

	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := jsonDecode(r, &got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := NewWebhook(srv.URL).Execute(context.Background(), "wf-1", "quarantine-file", "/tmp/payload.bin")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Status != StatusSucceeded {
		t.Errorf("status = %q, want Succeeded", r.Status)
	}
	if got.WorkflowID != "wf-1" || got.Action != "quarantine-file" || got.Target != "/tmp/payload.bin" {
		t.Errorf("request = %+v", got)
	}
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewWebhook(srv.URL).Execute(context.Background(), "wf-1", "isolate-subnet", "10.0.0.0/24"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func jsonDecode(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
