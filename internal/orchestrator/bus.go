package orchestrator

import "context"

// Handler consumes one event. Handlers must tolerate redelivery.
type Handler func(ctx context.Context, ev *Event)

// Bus moves events between the triage side and the coordinator.
// Implementations: membus (in-process) and natsbus (NATS).
type Bus interface {
	Publish(ctx context.Context, ev *Event) error
	Subscribe(kind Kind, h Handler) error
}
