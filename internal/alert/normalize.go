package alert

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformed rejects a raw alert missing required fields or failing
// schema validation. Callers translate it to a 4xx response.
var ErrMalformed = errors.New("malformed alert")

//go:embed schema.json
var rawSchema string

var schema = gojsonschema.NewStringLoader(rawSchema)

// rawAlert carries both our native field names and the Sentinel-style
// PascalCase aliases emitted by Microsoft-family sources.
type rawAlert struct {
	ID            string      `json:"id"`
	SystemAlertID string      `json:"SystemAlertId"`
	Timestamp     string      `json:"timestamp"`
	TimeGenerated string      `json:"TimeGenerated"`
	Severity      string      `json:"severity"`
	SeverityAlias string      `json:"Severity"`
	Name          string      `json:"name"`
	AlertName     string      `json:"AlertName"`
	Category      string      `json:"category"`
	AlertType     string      `json:"AlertType"`
	Description   string      `json:"description"`
	DescAlias     string      `json:"Description"`
	Source        string      `json:"source"`
	VendorName    string      `json:"VendorName"`
	Confidence    *float64    `json:"confidence"`
	ConfAlias     *float64    `json:"ConfidenceScore"`
	Techniques    []string    `json:"techniques"`
	TechAlias     []string    `json:"Techniques"`
	Entities      []rawEntity `json:"entities"`
	EntAlias      []rawEntity `json:"Entities"`
}

type rawEntity struct {
	Type      string `json:"type"`
	TypeAlias string `json:"Type"`
	Value     string `json:"value"`
	Role      string `json:"role"`

	// Sentinel entity property names, used when value is absent.
	HostName  string `json:"HostName"`
	UserName  string `json:"UserName"`
	IPAddress string `json:"IPAddress"`
	FileName  string `json:"FileName"`
	URL       string `json:"Url"`
}

// Normalize converts a raw vendor payload into a canonical Alert. It is a
// pure function apart from ID generation and the receive timestamp: the
// same payload always yields the same entities, severity, and confidence.
// Returns ErrMalformed when the payload fails schema validation or lacks
// id, timestamp, or severity.
func Normalize(raw []byte, now time.Time) (*Alert, error) {
	res, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, res.Errors()[0].String())
	}

	var r rawAlert
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sourceID := coalesce(r.ID, r.SystemAlertID)
	if sourceID == "" {
		return nil, fmt.Errorf("%w: missing alert id", ErrMalformed)
	}

	ts := coalesce(r.Timestamp, r.TimeGenerated)
	if ts == "" {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	generatedAt, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, ts)
	}

	sev, err := parseSeverity(coalesce(r.Severity, r.SeverityAlias))
	if err != nil {
		return nil, err
	}

	a := &Alert{
		ID:          ulid.Make().String(),
		Source:      coalesce(r.Source, r.VendorName, "unknown"),
		SourceID:    sourceID,
		ReceivedAt:  now,
		GeneratedAt: generatedAt,
		Name:        coalesce(r.Name, r.AlertName),
		Category:    coalesce(r.Category, r.AlertType),
		Severity:    sev,
		Description: coalesce(r.Description, r.DescAlias),
		Techniques:  firstNonEmpty(r.Techniques, r.TechAlias),
		Confidence:  normalizeConfidence(r.Confidence, r.ConfAlias),
	}

	rawEntities := r.Entities
	if len(rawEntities) == 0 {
		rawEntities = r.EntAlias
	}
	for _, re := range rawEntities {
		e, ok := normalizeEntity(re)
		if !ok {
			continue
		}
		a.Entities = append(a.Entities, e)
	}

	return a, nil
}

func parseSeverity(s string) (Severity, error) {
	if s == "" {
		return "", fmt.Errorf("%w: missing severity", ErrMalformed)
	}
	switch strings.ToLower(s) {
	case "informational", "info":
		return SeverityInformational, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high", "critical":
		// Sources that report "critical" map to our highest inbound level;
		// criticality beyond High is the scorer's concern.
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrMalformed, s)
}

// normalizeEntity maps a raw entity into canonical form. Unknown types map
// to EntityOther; entities with no resolvable value are dropped.
func normalizeEntity(re rawEntity) (Entity, bool) {
	typ := strings.ToLower(coalesce(re.Type, re.TypeAlias))
	value := re.Value

	// Sentinel-style entities carry the value in a type-specific property.
	if value == "" {
		switch {
		case re.HostName != "":
			typ, value = string(EntityHost), re.HostName
		case re.UserName != "":
			typ, value = string(EntityAccount), re.UserName
		case re.IPAddress != "":
			typ, value = string(EntityAddress), re.IPAddress
		case re.FileName != "":
			typ, value = string(EntityFile), re.FileName
		case re.URL != "":
			typ, value = string(EntityURL), re.URL
		}
	}
	if value == "" {
		return Entity{}, false
	}

	et := EntityType(typ)
	switch et {
	case EntityHost, EntityAccount, EntityAddress, EntityFile, EntityProcess, EntityMailbox, EntityURL:
	default:
		et = EntityOther
	}

	role := EntityRole(strings.ToLower(re.Role))
	switch role {
	case RoleRelated, RoleImpacted, RoleAttacker:
	default:
		role = RoleRelated
	}

	return Entity{Type: et, Value: value, Role: role}, true
}

func normalizeConfidence(vals ...*float64) int {
	for _, v := range vals {
		if v == nil {
			continue
		}
		c := *v
		// Sources report either 0..1 or 0..100.
		if c <= 1.0 {
			c *= 100
		}
		return int(math.Min(100, math.Max(0, c)))
	}
	return 75 // default when the source reports no confidence
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}
