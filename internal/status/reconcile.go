// Package status reconciles upstream observations into per-resource records
// and aggregates them into tenant reports.
package status

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/game"
	"github.com/woozymasta/arkstatus/internal/metrics"
	"github.com/woozymasta/arkstatus/internal/models"
	"github.com/woozymasta/arkstatus/internal/nitrado"
)

// ManagementAPI is the subset of the management API the reconciler reads.
type ManagementAPI interface {
	Metadata(ctx context.Context, id string) (nitrado.Metadata, error)
	Query(ctx context.Context, id string) (nitrado.QueryBlock, error)
	OnlinePlayers(ctx context.Context, id string) (int, error)
}

// LiveQuerier answers the binary query protocol of a game server endpoint.
type LiveQuerier interface {
	Query(ctx context.Context, host string, port int) (game.Occupancy, error)
}

// RegionLookup resolves the country code of a server address.
type RegionLookup interface {
	GetCountryCode(ip string) string
}

// Sources holds everything observed about one resource during one cycle.
// A nil pointer means the source failed or was not consulted.
type Sources struct {
	Metadata    *nitrado.Metadata
	Live        *game.Occupancy
	ListCount   *int
	Resource    models.TrackedResource
	CountryCode string
	Embedded    nitrado.QueryBlock
}

type stringSource struct {
	get  func(Sources) (string, bool)
	name string
}

type intSource struct {
	get  func(Sources) (int, bool)
	name string
}

// Precedence chains, highest first.
var (
	displayNameChain = []stringSource{
		{name: "custom", get: func(s Sources) (string, bool) { return nonBlank(s.Resource.CustomName) }},
		{name: "query.server_name", get: func(s Sources) (string, bool) { return s.Embedded.ServerName.Get() }},
		{name: "config.server-name", get: metaString(func(m *nitrado.Metadata) nitrado.OptString { return m.ConfigName })},
		{name: "label", get: metaString(func(m *nitrado.Metadata) nitrado.OptString { return m.Label })},
	}

	mapNameChain = []stringSource{
		{name: "live.map", get: func(s Sources) (string, bool) {
			if s.Live == nil {
				return "", false
			}
			return nonBlank(s.Live.Map)
		}},
		{name: "query.map", get: func(s Sources) (string, bool) { return s.Embedded.Map.Get() }},
		{name: "config.map", get: metaString(func(m *nitrado.Metadata) nitrado.OptString { return m.ConfigMap })},
		{name: "label", get: func(s Sources) (string, bool) {
			if s.Metadata == nil {
				return "", false
			}
			label, ok := s.Metadata.Label.Get()
			if !ok {
				return "", false
			}
			return mapFromLabel(label)
		}},
	}

	playerCountChain = []intSource{
		{name: "live", get: func(s Sources) (int, bool) {
			if s.Live == nil {
				return 0, false
			}
			return s.Live.Players, true
		}},
		{name: "query.player_current", get: func(s Sources) (int, bool) {
			return positive(s.Embedded.PlayerCurrent.Get())
		}},
		{name: "players", get: func(s Sources) (int, bool) {
			if s.ListCount == nil {
				return 0, false
			}
			return *s.ListCount, true
		}},
	}

	maxPlayersChain = []intSource{
		{name: "live", get: func(s Sources) (int, bool) {
			if s.Live == nil {
				return 0, false
			}
			return s.Live.MaxPlayers, true
		}},
		{name: "query.player_max", get: func(s Sources) (int, bool) {
			return positive(s.Embedded.PlayerMax.Get())
		}},
		{name: "slots", get: func(s Sources) (int, bool) {
			if s.Metadata == nil {
				return 0, false
			}
			return positive(s.Metadata.Slots.Get())
		}},
	}

	rawStatusChain = []stringSource{
		{name: "status", get: metaString(func(m *nitrado.Metadata) nitrado.OptString { return m.Status })},
	}
)

// Reconcile merges the observed sources into one record. It is a pure function of src.
func Reconcile(src Sources) models.ResourceStatusRecord {
	players, _ := firstInt(playerCountChain, src, 0)
	if players < 0 {
		players = 0
	}

	maxPlayers, _ := firstInt(maxPlayersChain, src, models.UnknownMaxPlayers)
	if maxPlayers < 0 {
		maxPlayers = models.UnknownMaxPlayers
	}

	rawStatus, _ := firstString(rawStatusChain, src, models.DefaultRawStatus)
	mapName, _ := firstString(mapNameChain, src, models.DefaultMapName)
	displayName, _ := firstString(displayNameChain, src, models.DefaultDisplayName(models.TrackedResource{ID: src.Resource.ID}))

	return models.ResourceStatusRecord{
		ResourceID:  src.Resource.ID,
		DisplayName: displayName,
		MapName:     mapName,
		RawStatus:   rawStatus,
		CountryCode: src.CountryCode,
		PlayerCount: players,
		MaxPlayers:  maxPlayers,
		Health:      models.ClassifyStatus(rawStatus),
	}
}

// needsPlayerList reports whether the cheap signals left the player count zero or unknown.
// A live answer is authoritative even when it reports an empty server.
func needsPlayerList(src Sources) bool {
	if src.Live != nil {
		return false
	}
	_, name := firstInt(playerCountChain, src, 0)
	return name == ""
}

// Reconciler gathers the upstream sources of a resource and reconciles them.
type Reconciler struct {
	live   LiveQuerier
	region RegionLookup
}

// NewReconciler creates a reconciler; region may be nil.
func NewReconciler(live LiveQuerier, region RegionLookup) *Reconciler {
	return &Reconciler{live: live, region: region}
}

// Resolve queries every source of res in fallback order and reconciles the result.
// Upstream failures are absorbed; the returned error is only the context error of a cycle
// that expired before any primary source answered.
func (r *Reconciler) Resolve(ctx context.Context, api ManagementAPI, res models.TrackedResource) (models.ResourceStatusRecord, error) {
	logger := log.With().Str("resource", res.ID).Logger()
	src := Sources{Resource: res}

	md, err := api.Metadata(ctx, res.ID)
	if err != nil {
		metrics.ResolverFailures.WithLabelValues("metadata").Inc()
		logger.Warn().Err(err).Msg("Metadata query failed, using defaults")
	} else {
		src.Metadata = &md
		src.Embedded = md.Query
	}

	host, port := endpoint(res, src.Metadata)
	occ, err := r.live.Query(ctx, host, port)
	if err != nil {
		metrics.ResolverFailures.WithLabelValues("live").Inc()
		logger.Trace().Err(err).Str("host", host).Int("port", port).Msg("Live query failed")
	} else {
		src.Live = &occ
	}

	// The remaining sources live on the same API; skip them once it is known to be down.
	if src.Metadata != nil {
		if src.Live == nil && !src.Embedded.HasPlayers() {
			q, err := api.Query(ctx, res.ID)
			if err != nil {
				metrics.ResolverFailures.WithLabelValues("query").Inc()
				logger.Debug().Err(err).Msg("Query block request failed")
			} else {
				src.Embedded = mergeBlocks(src.Embedded, q)
			}
		}

		if needsPlayerList(src) {
			n, err := api.OnlinePlayers(ctx, res.ID)
			if err != nil {
				metrics.ResolverFailures.WithLabelValues("players").Inc()
				logger.Debug().Err(err).Msg("Player list request failed")
			} else {
				src.ListCount = &n
			}
		}
	}

	if r.region != nil && host != "" {
		src.CountryCode = r.region.GetCountryCode(host)
	}

	// an expired cycle keeps whatever was gathered, only a resolution with nothing to show is abandoned
	if err := ctx.Err(); err != nil {
		if src.Metadata == nil && src.Live == nil {
			return models.ResourceStatusRecord{}, err
		}
		logger.Debug().Err(err).Msg("Cycle expired, reconciling partial sources")
	}

	record := Reconcile(src)
	logger.Debug().
		Str("status", record.RawStatus).
		Str("players", record.Occupancy()).
		Bool("live", src.Live != nil).
		Msg("Resource reconciled")

	return record, nil
}

// endpoint prefers the operator override, then the address reported by the management API.
func endpoint(res models.TrackedResource, md *nitrado.Metadata) (string, int) {
	host, port := res.Host, res.QueryPort
	if md != nil {
		if host == "" {
			host, _ = md.IP.Get()
		}
		if port == 0 {
			port, _ = md.QueryPort.Get()
		}
	}

	return host, port
}

// mergeBlocks fills fields missing in primary from fallback.
func mergeBlocks(primary, fallback nitrado.QueryBlock) nitrado.QueryBlock {
	if _, ok := primary.ServerName.Get(); !ok {
		primary.ServerName = fallback.ServerName
	}
	if _, ok := primary.Map.Get(); !ok {
		primary.Map = fallback.Map
	}
	if !primary.PlayerCurrent.Valid {
		primary.PlayerCurrent = fallback.PlayerCurrent
	}
	if !primary.PlayerMax.Valid {
		primary.PlayerMax = fallback.PlayerMax
	}

	return primary
}

// mapFromLabel takes the suffix after the last " - " of a service label, e.g. "Cluster - Ragnarok".
func mapFromLabel(label string) (string, bool) {
	i := strings.LastIndex(label, " - ")
	if i < 0 {
		return "", false
	}

	return nonBlank(label[i+3:])
}

func firstString(chain []stringSource, src Sources, fallback string) (string, string) {
	for _, s := range chain {
		if v, ok := s.get(src); ok {
			return v, s.name
		}
	}

	return fallback, ""
}

func firstInt(chain []intSource, src Sources, fallback int) (int, string) {
	for _, s := range chain {
		if v, ok := s.get(src); ok {
			return v, s.name
		}
	}

	return fallback, ""
}

func metaString(field func(*nitrado.Metadata) nitrado.OptString) func(Sources) (string, bool) {
	return func(s Sources) (string, bool) {
		if s.Metadata == nil {
			return "", false
		}
		return field(s.Metadata).Get()
	}
}

func nonBlank(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func positive(v int, ok bool) (int, bool) {
	return v, ok && v > 0
}
