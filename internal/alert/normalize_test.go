package alert

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalize_NativeFields(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"id": "alert-123",
		"timestamp": "2026-03-01T11:55:00Z",
		"severity": "High",
		"name": "Suspicious Login Attempt",
		"category": "Authentication",
		"description": "Multiple failed login attempts",
		"source": "sentinel",
		"confidence": 85,
		"techniques": ["T1078", "T1110"],
		"entities": [
			{"type": "host", "value": "web-01", "role": "impacted"},
			{"type": "account", "value": "svc-deploy", "role": "related"}
		]
	}`)

	a, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.ID == "" {
		t.Error("expected generated ID")
	}
	if a.DedupKey() != "sentinel/alert-123" {
		t.Errorf("DedupKey = %q, want %q", a.DedupKey(), "sentinel/alert-123")
	}
	if a.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want %q", a.Severity, SeverityHigh)
	}
	if a.Confidence != 85 {
		t.Errorf("Confidence = %d, want 85", a.Confidence)
	}
	if len(a.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(a.Entities))
	}
	if a.Entities[0].Role != RoleImpacted {
		t.Errorf("entity role = %q, want impacted", a.Entities[0].Role)
	}
	if len(a.Techniques) != 2 {
		t.Errorf("techniques = %d, want 2", len(a.Techniques))
	}
	if !a.GeneratedAt.Equal(time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC)) {
		t.Errorf("GeneratedAt = %v", a.GeneratedAt)
	}
}

func TestNormalize_SentinelAliases(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"SystemAlertId": "550e8400-e29b-41d4-a716-446655440000",
		"TimeGenerated": "2026-03-01T10:00:00Z",
		"Severity": "Medium",
		"AlertName": "Anomalous Token",
		"AlertType": "CredentialAccess",
		"VendorName": "Microsoft Sentinel",
		"ConfidenceScore": 0.9,
		"Techniques": ["T1528"],
		"Entities": [
			{"Type": "account", "UserName": "j.doe"},
			{"HostName": "WORKSTATION-01"}
		]
	}`)

	a, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Source != "Microsoft Sentinel" {
		t.Errorf("Source = %q", a.Source)
	}
	if a.Severity != SeverityMedium {
		t.Errorf("Severity = %q, want Medium", a.Severity)
	}
	// 0..1 confidence scales to 0..100.
	if a.Confidence != 90 {
		t.Errorf("Confidence = %d, want 90", a.Confidence)
	}
	if len(a.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(a.Entities))
	}
	if a.Entities[0].Type != EntityAccount || a.Entities[0].Value != "j.doe" {
		t.Errorf("entity[0] = %+v", a.Entities[0])
	}
	if a.Entities[1].Type != EntityHost || a.Entities[1].Value != "WORKSTATION-01" {
		t.Errorf("entity[1] = %+v", a.Entities[1])
	}
}

func TestNormalize_UnknownEntityTypeMapsToOther(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"id": "a-1", "timestamp": "2026-03-01T10:00:00Z", "severity": "Low",
		"entities": [{"type": "cloud-resource", "value": "vm-west-7"}]
	}`)

	a, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(a.Entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(a.Entities))
	}
	if a.Entities[0].Type != EntityOther {
		t.Errorf("type = %q, want other", a.Entities[0].Type)
	}
	if a.Entities[0].Role != RoleRelated {
		t.Errorf("role = %q, want related default", a.Entities[0].Role)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"missing id", `{"timestamp": "2026-03-01T10:00:00Z", "severity": "Low"}`},
		{"missing timestamp", `{"id": "a-1", "severity": "Low"}`},
		{"missing severity", `{"id": "a-1", "timestamp": "2026-03-01T10:00:00Z"}`},
		{"unknown severity", `{"id": "a-1", "timestamp": "2026-03-01T10:00:00Z", "severity": "Extreme"}`},
		{"bad timestamp", `{"id": "a-1", "timestamp": "yesterday", "severity": "Low"}`},
		{"wrong type", `{"id": 42, "timestamp": "2026-03-01T10:00:00Z", "severity": "Low"}`},
		{"not json", `not json at all`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize([]byte(tc.raw), testNow)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestNormalize_CriticalMapsToHigh(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"id": "a-1", "timestamp": "2026-03-01T10:00:00Z", "severity": "critical"}`)
	a, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want High", a.Severity)
	}
}

func TestEntityCount_Distinct(t *testing.T) {
	t.Parallel()

	a := &Alert{Entities: []Entity{
		{Type: EntityHost, Value: "web-01"},
		{Type: EntityHost, Value: "web-01", Role: RoleImpacted},
		{Type: EntityAccount, Value: "web-01"},
	}}
	if got := a.EntityCount(); got != 2 {
		t.Errorf("EntityCount = %d, want 2", got)
	}
}

func TestNormalize_DefaultConfidence(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"id": "a-1", "timestamp": "2026-03-01T10:00:00Z", "severity": "Low"}`)
	a, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Confidence != 75 {
		t.Errorf("Confidence = %d, want default 75", a.Confidence)
	}
}
