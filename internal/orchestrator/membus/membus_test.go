package membus

import (
	"context"
	"testing"

	"github.com/linnemanlabs/warden/internal/orchestrator"
)

func TestPublish_FansOutPerKind(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()

	var gotA, gotB, gotOther int
	_ = b.Subscribe(orchestrator.KindTriageComplete, func(_ context.Context, _ *orchestrator.Event) { gotA++ })
	_ = b.Subscribe(orchestrator.KindTriageComplete, func(_ context.Context, _ *orchestrator.Event) { gotB++ })
	_ = b.Subscribe(orchestrator.KindStageFailed, func(_ context.Context, _ *orchestrator.Event) { gotOther++ })

	ev, err := orchestrator.NewEvent(orchestrator.KindTriageComplete, "wf-1", nil)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := b.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if gotA != 1 || gotB != 1 {
		t.Errorf("same-kind subscribers got %d, %d deliveries, want 1, 1", gotA, gotB)
	}
	if gotOther != 0 {
		t.Errorf("other-kind subscriber got %d deliveries, want 0", gotOther)
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	t.Parallel()

	b := New()
	ev, _ := orchestrator.NewEvent(orchestrator.KindAlertIngested, "wf-1", nil)
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish with no subscribers: %v", err)
	}
}

func TestPublish_PayloadRoundTrip(t *testing.T) {
	t.Parallel()

	b := New()
	var got orchestrator.TriageCompletePayload
	_ = b.Subscribe(orchestrator.KindTriageComplete, func(_ context.Context, ev *orchestrator.Event) {
		if err := ev.DecodePayload(&got); err != nil {
			t.Errorf("DecodePayload: %v", err)
		}
	})

	want := orchestrator.TriageCompletePayload{
		AlertID:  "a-1",
		Decision: "EscalateToIncident",
		Priority: "High",
		Score:    82,
	}
	ev, err := orchestrator.NewEvent(orchestrator.KindTriageComplete, "wf-1", want)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}
