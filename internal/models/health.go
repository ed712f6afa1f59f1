package models

import (
	"fmt"
)

// HealthClass classifies one resource from its raw upstream status.
type HealthClass int

// Health classes ordered by increasing severity.
const (
	HealthHealthy HealthClass = iota
	HealthTransitioning
	HealthUnreachable
)

var (
	healthyStatuses       = map[string]struct{}{"started": {}, "online": {}}
	transitioningStatuses = map[string]struct{}{"restarting": {}, "updating": {}}
)

// ClassifyStatus maps a raw status onto a health class, case-insensitively.
// Anything outside the known vocabularies, "unknown" included, is unreachable.
func ClassifyStatus(raw string) HealthClass {
	s := NormalizeStatus(raw)
	if _, ok := healthyStatuses[s]; ok {
		return HealthHealthy
	}
	if _, ok := transitioningStatuses[s]; ok {
		return HealthTransitioning
	}

	return HealthUnreachable
}

func (h HealthClass) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthTransitioning:
		return "transitioning"
	default:
		return "unreachable"
	}
}

// Glyph is the status indicator shown in reports.
func (h HealthClass) Glyph() string {
	switch h {
	case HealthHealthy:
		return "🟢"
	case HealthTransitioning:
		return "🟡"
	default:
		return "🔴"
	}
}

// Severity is the report severity contributed by a single record.
func (h HealthClass) Severity() Severity {
	switch h {
	case HealthHealthy:
		return SeverityNominal
	case HealthTransitioning:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// MarshalText implements encoding.TextMarshaler.
func (h HealthClass) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Severity is the aggregate health classification of a tenant report.
type Severity int

// Severities ordered so that the maximum wins.
const (
	SeverityNominal Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNominal:
		return "nominal"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Max returns the more severe of the two.
func (s Severity) Max(other Severity) Severity {
	if other > s {
		return other
	}

	return s
}
