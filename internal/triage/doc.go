// Package triage provides the business boundary for Warden's alert
// triage system. It defines the Service (ingest idempotency, lifecycle,
// async dispatch), the deterministic decision engine, the Store
// interface (persistence), and domain models.
package triage
