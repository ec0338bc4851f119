// Package natsbus provides a NATS-backed implementation of
// orchestrator.Bus. Events are published as JSON on warden.events.<kind>
// and consumed through a queue group so multiple coordinator replicas
// share the load.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/orchestrator"
)

const subjectPrefix = "warden.events."

// Bus publishes and subscribes over a shared NATS connection.
type Bus struct {
	nc     *nats.Conn
	queue  string
	logger log.Logger

	subs []*nats.Subscription
}

// New wraps an established NATS connection. queue names the queue group
// for subscriptions.
func New(nc *nats.Conn, queue string, logger log.Logger) *Bus {
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{nc: nc, queue: queue, logger: logger}
}

// Publish marshals the event and publishes it on its kind's subject.
func (b *Bus) Publish(_ context.Context, ev *orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	if err := b.nc.Publish(subjectPrefix+string(ev.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Subscribe joins the queue group on the kind's subject. Malformed
// messages are logged and dropped; redelivery cannot fix a bad payload.
func (b *Bus) Subscribe(kind orchestrator.Kind, h orchestrator.Handler) error {
	subject := subjectPrefix + string(kind)
	sub, err := b.nc.QueueSubscribe(subject, b.queue, func(msg *nats.Msg) {
		ctx := context.Background()
		var ev orchestrator.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error(ctx, err, "dropping malformed event",
				"subject", msg.Subject,
				"bytes", len(msg.Data),
			)
			return
		}
		h(ctx, &ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Drain flushes in-flight messages on every subscription. Call during
// shutdown before closing the connection.
func (b *Bus) Drain(ctx context.Context) error {
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Error(ctx, err, "drain subscription", "subject", sub.Subject)
		}
	}
	return nil
}
