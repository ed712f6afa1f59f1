package server

import (
	"context"
	"net/http"
	"time"

	"github.com/woozymasta/arkstatus/internal/game"
	"github.com/woozymasta/arkstatus/internal/models"
	"github.com/woozymasta/arkstatus/internal/nitrado"
	"github.com/woozymasta/arkstatus/internal/storage"
	"github.com/woozymasta/arkstatus/internal/tenant"
)

// Cycles runs and inspects tenant report cycles.
type Cycles interface {
	TriggerNow(ctx context.Context, tenantID string) error
	Preview(ctx context.Context, tenantID string) (models.TenantReport, error)
	Handle(ctx context.Context, tenantID string) (models.PublishedMessageHandle, error)
	Retire(ctx context.Context, tenantID string) error
}

// Accounts validates management API tokens.
type Accounts interface {
	Services(ctx context.Context, token string) ([]nitrado.Service, error)
	Forget(token string)
}

// Prober runs a live game endpoint query.
type Prober interface {
	Query(ctx context.Context, host string, port int) (game.Occupancy, error)
}

// Failures reads the publish failure streak of a tenant.
type Failures interface {
	GetHandle(ctx context.Context, tenantID string) (*storage.Entry, error)
}

// Deps are the collaborators the admin API drives.
type Deps struct {
	Tenants  *tenant.Store
	Cycles   Cycles
	Accounts Accounts
	Prober   Prober
	Failures Failures
	Metrics  http.Handler
}

// Server holds the dependencies, configuration and runtime state of the admin API.
type Server struct {
	// tenants is the tenant configuration store edited by the channel and token endpoints.
	tenants *tenant.Store

	// cycles triggers and previews tenant reports.
	cycles Cycles

	// accounts validates tokens against the management API services listing.
	accounts Accounts

	// prober answers the live A2S probe endpoint.
	prober Prober

	// failures exposes the publish failure streak stored with the report handle.
	failures Failures

	// metrics serves the Prometheus registry, nil disables /metrics.
	metrics http.Handler

	// shutdown stops the rate limiter cleanup loop.
	shutdown chan struct{}

	// authToken is the secret token required by every /api endpoint.
	authToken string

	// maxBody caps the size of JSON request bodies.
	maxBody int64

	// rateCount is the number of requests allowed per client IP within rateWindow.
	rateCount int

	// rateWindow is the window of the per-IP rate limiter.
	rateWindow time.Duration

	// trustProxy enables CF-Connecting-IP and X-Forwarded-For for client IP detection.
	trustProxy bool
}

// channelView is the answer of the channel endpoints.
type channelView struct {
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ChannelID   string     `json:"channel_id"`
	MessageID   string     `json:"message_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Failures    int        `json:"failures"`
	Enabled     bool       `json:"enabled"`
}

// channelRequest is the body of PUT /api/tenants/{id}/channel.
type channelRequest struct {
	ChannelID string `json:"channel_id"`
}

// tokenRequest is the body of POST /api/tenants/{id}/token.
type tokenRequest struct {
	Token     string `json:"token"`
	GuildName string `json:"guild_name"`
}

// linkedServer is one ARK server discovered while linking a token.
type linkedServer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// tokenView is the answer of the token endpoint.
type tokenView struct {
	TokenPreview string         `json:"token_preview"`
	Servers      []linkedServer `json:"servers"`
}
