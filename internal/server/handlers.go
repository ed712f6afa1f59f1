package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/game"
	"github.com/woozymasta/arkstatus/internal/nitrado"
	"github.com/woozymasta/arkstatus/internal/report"
	"github.com/woozymasta/arkstatus/internal/tenant"
	"github.com/woozymasta/arkstatus/internal/vars"
)

var channelPattern = regexp.MustCompile(`^[0-9]{5,25}$`)

// handleRefresh runs the report cycle of a tenant right away.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}

	err := s.cycles.TriggerNow(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Report refreshed"})
	case errors.Is(err, tenant.ErrConfigMissing):
		writeError(w, http.StatusConflict, "no report channel configured")
	case errors.Is(err, report.ErrPublish):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Str("tenant", id).Msg("Manual refresh failed")
		writeError(w, http.StatusInternalServerError, "refresh failed")
	}
}

// handleGetChannel shows the report channel of a tenant and the state of its live message.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}

	cfg, err := s.tenants.Load(id)
	if err != nil {
		log.Error().Err(err).Str("tenant", id).Msg("Failed to load tenant config")
		writeError(w, http.StatusInternalServerError, "config error")
		return
	}

	view := channelView{ChannelID: cfg.StatusChannelID, Enabled: cfg.StatusChannelID != ""}

	handle, err := s.cycles.Handle(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("tenant", id).Msg("Failed to load report handle")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if handle.IsSet() {
		view.MessageID = handle.MessageID
		at := handle.PublishedAt
		view.PublishedAt = &at
	}

	if entry, err := s.failures.GetHandle(r.Context(), id); err == nil && entry != nil {
		view.Failures = entry.Failures
		view.LastError = entry.LastError
	}

	writeJSON(w, http.StatusOK, view)
}

// handleSetChannel sets the report channel of a tenant and publishes into it.
func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}

	var req channelRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if !channelPattern.MatchString(req.ChannelID) {
		writeError(w, http.StatusBadRequest, "invalid channel_id")
		return
	}

	if err := s.tenants.Update(id, func(c *tenant.Config) error {
		c.StatusChannelID = req.ChannelID
		return nil
	}); err != nil {
		log.Error().Err(err).Str("tenant", id).Msg("Failed to save report channel")
		writeError(w, http.StatusInternalServerError, "config error")
		return
	}

	log.Info().Str("tenant", id).Str("channel", req.ChannelID).Msg("Report channel set")

	if err := s.cycles.TriggerNow(r.Context(), id); err != nil {
		log.Warn().Err(err).Str("tenant", id).Msg("First publish into new channel failed")
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "pending",
			"message": "Channel saved, first publish failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Channel saved and report published"})
}

// handleDisableChannel stops reports for a tenant and removes its live message.
func (s *Server) handleDisableChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}

	if err := s.tenants.Update(id, func(c *tenant.Config) error {
		c.StatusChannelID = ""
		return nil
	}); err != nil {
		log.Error().Err(err).Str("tenant", id).Msg("Failed to clear report channel")
		writeError(w, http.StatusInternalServerError, "config error")
		return
	}

	if err := s.cycles.Retire(r.Context(), id); err != nil {
		log.Warn().Err(err).Str("tenant", id).Msg("Failed to retire live report")
	}

	log.Info().Str("tenant", id).Msg("Report channel disabled")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Status updates disabled"})
}

// handleLinkToken validates a management API token and links the ARK servers of its account.
func (s *Server) handleLinkToken(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}

	var req tokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	services, err := s.accounts.Services(r.Context(), req.Token)
	if err != nil {
		s.accounts.Forget(req.Token)

		var statusErr *nitrado.StatusError
		if errors.As(err, &statusErr) {
			writeError(w, http.StatusBadRequest, "invalid token, response code "+strconv.Itoa(statusErr.Code))
			return
		}
		log.Warn().Err(err).Str("tenant", id).Msg("Token validation failed")
		writeError(w, http.StatusBadGateway, "token could not be validated")
		return
	}

	ark := nitrado.ArkServers(services)
	view := tokenView{TokenPreview: tenant.Preview(req.Token), Servers: make([]linkedServer, 0, len(ark))}

	var previous string
	err = s.tenants.Update(id, func(c *tenant.Config) error {
		previous = c.CredentialToken
		if c.Meta == nil && req.GuildName != "" {
			c.Meta = &tenant.Meta{GuildName: req.GuildName, CreatedAt: time.Now().UTC()}
		}

		c.CredentialToken = req.Token
		c.TokenPreview = view.TokenPreview
		c.ResourceIDs = make([]string, 0, len(ark))
		c.LinkedServers = make([]string, 0, len(ark))
		c.ResourceNames = make(map[string]string, len(ark))
		for _, svc := range ark {
			c.ResourceIDs = append(c.ResourceIDs, svc.ID)
			c.LinkedServers = append(c.LinkedServers, svc.Name)
			c.ResourceNames[svc.ID] = svc.Name
			view.Servers = append(view.Servers, linkedServer{ID: svc.ID, Name: svc.Name})
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("tenant", id).Msg("Failed to save token")
		writeError(w, http.StatusInternalServerError, "config error")
		return
	}

	if previous != "" && previous != req.Token {
		s.accounts.Forget(previous)
	}

	log.Info().
		Str("tenant", id).
		Str("token", view.TokenPreview).
		Int("servers", len(view.Servers)).
		Msg("Management API token linked")

	writeJSON(w, http.StatusOK, view)
}

// handlePreview aggregates the report of a tenant without publishing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}

	rep, err := s.cycles.Preview(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("tenant", id).Msg("Failed to build report preview")
		writeError(w, http.StatusInternalServerError, "preview failed")
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// handleServerQuery performs a live A2S query to a game server.
// Query params: ?ip=1.2.3.4&port=27015
func (s *Server) handleServerQuery(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	portStr := r.URL.Query().Get("port")

	if ip == "" || portStr == "" {
		writeError(w, http.StatusBadRequest, "missing ip or port")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}

	info, err := s.prober.Query(r.Context(), ip, port)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, game.ErrQueryTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// handleVersion returns the build info.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

// tenantID reads and validates the {id} path value.
func tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !tenant.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return "", false
	}

	return id, true
}

// decode reads a size limited JSON body, writing the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Debug().Err(err).Str("ip", GetRealIP(r, s.trustProxy)).Msg("Invalid JSON")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
