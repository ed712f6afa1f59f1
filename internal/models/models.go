// Package models defines the data structures shared by the resolvers, the aggregator and the publisher.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults used for any field that never resolves from an upstream source.
const (
	DefaultMapName    = "Unknown"
	DefaultRawStatus  = "unknown"
	UnknownMaxPlayers = -1
)

// TrackedResource identifies one monitored game server of a tenant.
type TrackedResource struct {
	// ID is the stable upstream service identifier.
	ID string `json:"id"`

	// CustomName is an operator display name override, may be empty.
	CustomName string `json:"custom_name,omitempty"`

	// Host and QueryPort optionally override the A2S endpoint reported by the management API.
	Host      string `json:"host,omitempty"`
	QueryPort int    `json:"query_port,omitempty"`
}

// ResourceStatusRecord is the reconciled state of one resource at one poll.
// It is built once per cycle and never mutated afterwards.
type ResourceStatusRecord struct {
	ResourceID  string      `json:"resource_id"`
	DisplayName string      `json:"display_name"`
	MapName     string      `json:"map_name"`
	RawStatus   string      `json:"raw_status"`
	CountryCode string      `json:"country_code,omitempty"`
	PlayerCount int         `json:"player_count"`
	MaxPlayers  int         `json:"max_players"`
	Health      HealthClass `json:"health"`
}

// DefaultRecord returns the all-defaults record used when nothing about a resource could be resolved.
func DefaultRecord(res TrackedResource) ResourceStatusRecord {
	return ResourceStatusRecord{
		ResourceID:  res.ID,
		DisplayName: DefaultDisplayName(res),
		MapName:     DefaultMapName,
		RawStatus:   DefaultRawStatus,
		PlayerCount: 0,
		MaxPlayers:  UnknownMaxPlayers,
		Health:      ClassifyStatus(DefaultRawStatus),
	}
}

// DefaultDisplayName is the operator name when set, else "Server {id}".
func DefaultDisplayName(res TrackedResource) string {
	if res.CustomName != "" {
		return res.CustomName
	}

	return "Server " + res.ID
}

// MaxPlayersString renders the slot capacity, "?" when unknown.
func (r ResourceStatusRecord) MaxPlayersString() string {
	if r.MaxPlayers < 0 {
		return "?"
	}

	return strconv.Itoa(r.MaxPlayers)
}

// Occupancy renders "players/max".
func (r ResourceStatusRecord) Occupancy() string {
	return fmt.Sprintf("%d/%s", r.PlayerCount, r.MaxPlayersString())
}

// TenantReport is one tenant's aggregate for one poll cycle.
type TenantReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	TenantID    string                 `json:"tenant_id"`
	Notice      string                 `json:"notice,omitempty"`
	Records     []ResourceStatusRecord `json:"records"`
	Severity    Severity               `json:"severity"`
}

// IsSentinel reports whether the report carries an explanatory notice instead of records.
func (r TenantReport) IsSentinel() bool {
	return r.Notice != ""
}

// PublishedMessageHandle points at the live report message of a tenant.
type PublishedMessageHandle struct {
	PublishedAt time.Time `json:"published_at"`
	TenantID    string    `json:"tenant_id"`
	ChannelID   string    `json:"channel_id"`
	MessageID   string    `json:"message_id"`
}

// IsSet reports whether the handle references a message.
func (h PublishedMessageHandle) IsSet() bool {
	return h.ChannelID != "" && h.MessageID != ""
}

// NormalizeStatus lowercases and trims an upstream status for comparison.
func NormalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
