package audit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/audit/memlog"
)

func TestAppend_SequencesPerWorkflow(t *testing.T) {
	t.Parallel()

	l := audit.NewLog(memlog.New(), nil)
	ctx := context.Background()

	r1, err := l.Append(ctx, "wf-1", "triage", "DecisionRecorded", "a-1", audit.ResultSuccess)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	r2, _ := l.Append(ctx, "wf-1", "coordinator", "ActionDispatched", "a-1", audit.ResultPending)
	r3, _ := l.Append(ctx, "wf-2", "triage", "DecisionRecorded", "a-2", audit.ResultSuccess)

	if r1.Seq != 1 || r2.Seq != 2 {
		t.Errorf("wf-1 seqs = %d, %d, want 1, 2", r1.Seq, r2.Seq)
	}
	if r1.CausalSeq != 0 {
		t.Errorf("first record CausalSeq = %d, want 0", r1.CausalSeq)
	}
	if r2.CausalSeq != r1.Seq {
		t.Errorf("CausalSeq = %d, want %d", r2.CausalSeq, r1.Seq)
	}
	// sequences are per-partition
	if r3.Seq != 1 {
		t.Errorf("wf-2 first seq = %d, want 1", r3.Seq)
	}
}

func TestTrail_StrictlyIncreasingAndCausal(t *testing.T) {
	t.Parallel()

	l := audit.NewLog(memlog.New(), nil)
	ctx := context.Background()

	actions := []string{"DecisionRecorded", "ActionDispatched", "ActionExecuted"}
	for _, a := range actions {
		if _, err := l.Append(ctx, "wf-1", "warden", a, "a-1", audit.ResultSuccess); err != nil {
			t.Fatalf("Append %s: %v", a, err)
		}
	}

	trail, err := l.Trail(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail len = %d, want 3", len(trail))
	}
	for i, r := range trail {
		if r.Seq != uint64(i+1) {
			t.Errorf("seq[%d] = %d, want %d", i, r.Seq, i+1)
		}
		if r.Action != actions[i] {
			t.Errorf("action[%d] = %q, want %q (causal order broken)", i, r.Action, actions[i])
		}
		if i > 0 && r.CausalSeq != trail[i-1].Seq {
			t.Errorf("record %d causal link = %d, want %d", i, r.CausalSeq, trail[i-1].Seq)
		}
	}
}

func TestAppend_ContinuesSequenceAfterRestart(t *testing.T) {
	t.Parallel()

	store := memlog.New()
	ctx := context.Background()

	first := audit.NewLog(store, nil)
	if _, err := first.Append(ctx, "wf-1", "triage", "DecisionRecorded", "a-1", audit.ResultSuccess); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := first.Append(ctx, "wf-1", "coordinator", "ActionDispatched", "a-1", audit.ResultPending); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A fresh Log over the same store models a process restart: it must
	// pick up where the persisted chain left off, not reissue seq 1.
	restarted := audit.NewLog(store, nil)
	r, err := restarted.Append(ctx, "wf-1", "coordinator", "ActionExecuted", "a-1", audit.ResultSuccess)
	if err != nil {
		t.Fatalf("Append after restart: %v", err)
	}
	if r.Seq != 3 {
		t.Errorf("Seq = %d, want 3", r.Seq)
	}
	if r.CausalSeq != 2 {
		t.Errorf("CausalSeq = %d, want 2", r.CausalSeq)
	}

	trail, err := restarted.Trail(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail len = %d, want 3", len(trail))
	}
	for i, rec := range trail {
		if rec.Seq != uint64(i+1) {
			t.Errorf("seq[%d] = %d, want %d", i, rec.Seq, i+1)
		}
	}
}

func TestAppend_ConcurrentWritersNoDuplicateSeq(t *testing.T) {
	t.Parallel()

	l := audit.NewLog(memlog.New(), nil)
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _ = l.Append(ctx, "wf-1", "warden", fmt.Sprintf("Action%d", i), "", audit.ResultSuccess)
		}(i)
	}
	wg.Wait()

	trail, err := l.Trail(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != n {
		t.Fatalf("trail len = %d, want %d", len(trail), n)
	}
	seen := make(map[uint64]bool, n)
	for _, r := range trail {
		if seen[r.Seq] {
			t.Fatalf("duplicate seq %d", r.Seq)
		}
		seen[r.Seq] = true
	}
	for s := uint64(1); s <= n; s++ {
		if !seen[s] {
			t.Errorf("missing seq %d", s)
		}
	}
}
