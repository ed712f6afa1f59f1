// Package report renders tenant reports and keeps exactly one live report message per channel.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/woozymasta/arkstatus/internal/models"
)

// Title marks report messages, the history sweep relies on it.
const Title = "📡 Ark Server Status"

// Embed colors by severity.
const (
	ColorGreen  = 0x57F287
	ColorYellow = 0xFEE75C
	ColorRed    = 0xED4245
)

// Channel platform limits.
const (
	maxFields     = 25
	maxFieldName  = 256
	maxFieldValue = 1024
	spacer        = "\u200b"
)

// Field is one titled block of a report.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload is a rendered report, independent from the messaging platform.
type Payload struct {
	Timestamp   time.Time
	Title       string
	Description string
	Footer      string
	Fields      []Field
	Color       int
}

// Renderer turns reports into payloads.
type Renderer struct {
	// Interval is announced in the footer.
	Interval time.Duration
}

// Render builds the payload of a report.
func (r Renderer) Render(report models.TenantReport) Payload {
	updated := fmt.Sprintf("Last updated: <t:%d:R>", report.GeneratedAt.Unix())

	p := Payload{
		Title:     Title,
		Color:     SeverityColor(report.Severity),
		Footer:    "Auto-updated every " + humanInterval(r.Interval),
		Timestamp: report.GeneratedAt,
	}

	if report.IsSentinel() {
		p.Description = report.Notice + "\n\n" + updated
		return p
	}
	p.Description = updated

	// Spacers only while every record still fits
	withSpacers := len(report.Records)*2-1 <= maxFields

	shown, rest := report.Records, []models.ResourceStatusRecord(nil)
	if len(shown) > maxFields {
		// last field summarizes what did not fit
		shown, rest = shown[:maxFields-1], shown[maxFields-1:]
	}

	for i, rec := range shown {
		if i > 0 && withSpacers {
			p.Fields = append(p.Fields, Field{Name: spacer, Value: spacer})
		}
		p.Fields = append(p.Fields, Field{
			Name:  truncate(rec.DisplayName, maxFieldName),
			Value: truncate(recordBlock(rec), maxFieldValue),
		})
	}

	if len(rest) > 0 {
		p.Fields = append(p.Fields, overflowField(rest))
	}

	return p
}

// SeverityColor maps a report severity to the embed color.
func SeverityColor(s models.Severity) int {
	switch s {
	case models.SeverityNominal:
		return ColorGreen
	case models.SeverityWarning:
		return ColorYellow
	default:
		return ColorRed
	}
}

func recordBlock(rec models.ResourceStatusRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🆔 ID: `%s`\n", rec.ResourceID)
	fmt.Fprintf(&b, "🗺️ Map: `%s`\n", rec.MapName)
	fmt.Fprintf(&b, "🧍 Players: `%s`\n", rec.Occupancy())
	fmt.Fprintf(&b, "%s Status: `%s`", rec.Health.Glyph(), rec.RawStatus)
	if flag := countryFlag(rec.CountryCode); flag != "" {
		fmt.Fprintf(&b, "\n🌍 Region: %s `%s`", flag, strings.ToUpper(rec.CountryCode))
	}

	return b.String()
}

// overflowField names the records left out of the payload and counts the unreachable ones.
func overflowField(rest []models.ResourceStatusRecord) Field {
	unreachable := 0
	names := make([]string, 0, len(rest))
	for _, rec := range rest {
		if rec.Health == models.HealthUnreachable {
			unreachable++
		}
		names = append(names, rec.DisplayName)
	}

	name := fmt.Sprintf("…and %d more servers", len(rest))
	if unreachable > 0 {
		name += fmt.Sprintf(" (%d unreachable)", unreachable)
	}

	return Field{
		Name:  truncate(name, maxFieldName),
		Value: truncate(strings.Join(names, ", "), maxFieldValue),
	}
}

// countryFlag turns an ISO 3166 alpha-2 code into regional indicator symbols.
func countryFlag(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return ""
	}

	var flag []rune
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return ""
		}
		flag = append(flag, 0x1F1E6+(c-'A'))
	}

	return string(flag)
}

func humanInterval(d time.Duration) string {
	switch {
	case d <= 0:
		return "cycle"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
