// Package alert defines the canonical security alert model and the
// normalizer that converts vendor-variable raw payloads into it.
package alert

import (
	"time"
)

// Severity is the vendor-reported severity of an alert.
type Severity string

const (
	SeverityInformational Severity = "Informational"
	SeverityLow           Severity = "Low"
	SeverityMedium        Severity = "Medium"
	SeverityHigh          Severity = "High"
)

// Valid reports whether s is a known severity value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInformational, SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// EntityType classifies an entity referenced by an alert.
type EntityType string

const (
	EntityHost    EntityType = "host"
	EntityAccount EntityType = "account"
	EntityAddress EntityType = "address"
	EntityFile    EntityType = "file"
	EntityProcess EntityType = "process"
	EntityMailbox EntityType = "mailbox"
	EntityURL     EntityType = "url"

	// EntityOther absorbs vendor subtypes we do not model yet, so unknown
	// entity kinds normalize instead of failing ingestion.
	EntityOther EntityType = "other"
)

// EntityRole describes how an entity relates to the alert.
type EntityRole string

const (
	RoleRelated  EntityRole = "related"
	RoleImpacted EntityRole = "impacted"
	RoleAttacker EntityRole = "attacker"
)

// Entity is a typed identifier referenced by an alert. Entities are
// compared for correlation by (Type, Value) equality only.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
	Role  EntityRole `json:"role"`
}

// Key returns the correlation index key for the entity.
func (e Entity) Key() string {
	return string(e.Type) + ":" + e.Value
}

// Alert is a normalized security detection event. Immutable after
// normalization; downstream components must not mutate it.
type Alert struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id"`
	ReceivedAt  time.Time `json:"received_at"`
	GeneratedAt time.Time `json:"generated_at"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description,omitempty"`
	Entities    []Entity  `json:"entities,omitempty"`
	Techniques  []string  `json:"techniques,omitempty"`
	Confidence  int       `json:"confidence"`
}

// DedupKey is the stable idempotency key for ingestion: the same
// source-native alert submitted twice maps to the same workflow.
func (a *Alert) DedupKey() string {
	return a.Source + "/" + a.SourceID
}

// EntityCount returns the number of distinct (type, value) entities.
func (a *Alert) EntityCount() int {
	seen := make(map[string]struct{}, len(a.Entities))
	for _, e := range a.Entities {
		seen[e.Key()] = struct{}{}
	}
	return len(seen)
}
