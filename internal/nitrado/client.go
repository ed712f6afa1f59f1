// Package nitrado implements a read-only client for the Nitrado management API.
package nitrado

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/woozymasta/arkstatus/internal/config"
	"github.com/woozymasta/arkstatus/internal/vars"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds the JSON body read from a single response.
const maxResponseSize = 4 << 20

// ErrUpstreamUnavailable is returned for non-success responses, malformed payloads and an open breaker.
var ErrUpstreamUnavailable = errors.New("management API unavailable")

// StatusError is a non-success HTTP response, it matches ErrUpstreamUnavailable.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d", ErrUpstreamUnavailable, e.Path, e.Code)
}

// Unwrap lets errors.Is match ErrUpstreamUnavailable.
func (e *StatusError) Unwrap() error {
	return ErrUpstreamUnavailable
}

// Client talks to the management API on behalf of one bearer token.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	baseURL string
	token   string
}

// Pool hands out one Client per token so rate limits and breaker state survive across cycles.
type Pool struct {
	http    *http.Client
	clients map[uint64]*Client
	opts    config.Nitrado
	mu      sync.Mutex
}

// NewPool creates a client pool from the management API options.
func NewPool(opts config.Nitrado) *Pool {
	return &Pool{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		clients: make(map[uint64]*Client),
	}
}

// Client returns the cached client for token, creating it on first use.
// Tokens are keyed by hash so the pool never holds them as map keys.
func (p *Pool) Client(token string) *Client {
	key := xxhash.Sum64String(token)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}

	c := newClient(p.http, p.opts, token, fmt.Sprintf("nitrado-%016x", key))
	p.clients[key] = c

	return c
}

// Forget drops the cached client of a replaced token.
func (p *Pool) Forget(token string) {
	p.mu.Lock()
	delete(p.clients, xxhash.Sum64String(token))
	p.mu.Unlock()
}

// Services lists the account services of token through its pooled client.
func (p *Pool) Services(ctx context.Context, token string) ([]Service, error) {
	return p.Client(token).Services(ctx)
}

func newClient(httpClient *http.Client, opts config.Nitrado, token, name string) *Client {
	limit := rate.Inf
	if opts.RateInterval > 0 {
		limit = rate.Every(opts.RateInterval)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}
	trip := opts.BreakerTrip
	if trip == 0 {
		trip = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Management API circuit breaker state changed")
		},
	})

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   token,
	}
}

// Metadata fetches GET /services/{id}/gameservers.
func (c *Client) Metadata(ctx context.Context, id string) (Metadata, error) {
	var env envelope[gameserverData]
	if err := c.get(ctx, "/services/"+url.PathEscape(id)+"/gameservers", &env); err != nil {
		return Metadata{}, err
	}

	md := Metadata{Query: env.Data.Query}
	if gs := env.Data.Gameserver; gs != nil {
		md.Status = gs.Status
		md.Label = gs.Label
		md.IP = gs.IP
		md.Port = gs.Port
		md.QueryPort = gs.QueryPort
		md.Slots = gs.Slots
		md.ConfigMap = gs.Settings.Map
		md.ConfigName = gs.Settings.ServerName

		// The block can live under data.query or data.gameserver.query
		if !md.Query.HasPlayers() && gs.Query.HasPlayers() {
			md.Query = gs.Query
		}
	}

	return md, nil
}

// Query fetches GET /services/{id}/gameservers/query.
func (c *Client) Query(ctx context.Context, id string) (QueryBlock, error) {
	var env envelope[queryData]
	if err := c.get(ctx, "/services/"+url.PathEscape(id)+"/gameservers/query", &env); err != nil {
		return QueryBlock{}, err
	}

	return env.Data.block(), nil
}

// OnlinePlayers fetches GET /services/{id}/players and counts online entries.
// Entries without an online flag are counted.
func (c *Client) OnlinePlayers(ctx context.Context, id string) (int, error) {
	var env envelope[playersData]
	if err := c.get(ctx, "/services/"+url.PathEscape(id)+"/players", &env); err != nil {
		return 0, err
	}

	count := 0
	for _, p := range env.Data.Players {
		if p.Online == nil || *p.Online {
			count++
		}
	}

	return count, nil
}

// Services fetches GET /services, the account listing used when linking a token.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var env envelope[servicesData]
	if err := c.get(ctx, "/services", &env); err != nil {
		return nil, err
	}

	services := make([]Service, 0, len(env.Data.Services))
	for _, s := range env.Data.Services {
		id, ok := s.ID.Get()
		if !ok {
			continue
		}
		name, _ := s.Details.Name.Get()
		game, _ := s.Details.Game.Get()
		services = append(services, Service{ID: id, Type: s.Type, Name: name, Game: game})
	}

	return services, nil
}

// ArkServers filters a services listing down to ARK gameservers, preserving order.
func ArkServers(services []Service) []Service {
	var out []Service
	for _, s := range services {
		if s.IsArk() {
			out = append(out, s)
		}
	}

	return out
}

// get performs one rate-limited, breaker-guarded GET and decodes the JSON envelope into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, path, err)
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, path, out)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, path, err)
	}

	log.Trace().
		Str("path", path).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Management API request")

	return err
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", vars.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return &StatusError{Path: path, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: malformed payload: %v", ErrUpstreamUnavailable, path, err)
	}

	return nil
}
