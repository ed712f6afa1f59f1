// Package game provides functionality to query game servers using the Source Engine Query (A2S) protocol.
package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/arkstatus/internal/config"
)

var (
	// ErrQueryTimeout is returned when the endpoint did not answer in time.
	ErrQueryTimeout = errors.New("a2s query timed out")

	// ErrQueryUnreachable is returned when the endpoint is unknown, invalid or refused the query.
	ErrQueryUnreachable = errors.New("a2s endpoint unreachable")
)

// Occupancy is the live state answered by the game server process itself.
type Occupancy struct {
	Name       string `json:"name"`
	Map        string `json:"map"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

// Querier runs A2S_INFO requests against game server endpoints.
type Querier struct {
	resolver *net.Resolver
	exchange func(ip string, port int, options config.A2S) (*a2s.Info, error)
	options  config.A2S
}

// NewQuerier creates a Querier with the given protocol options.
func NewQuerier(options config.A2S) *Querier {
	return &Querier{
		options:  options,
		resolver: net.DefaultResolver,
		exchange: QueryServer,
	}
}

// QueryServer connects to a game server via UDP and requests A2S_INFO.
func QueryServer(ip string, port int, options config.A2S) (*a2s.Info, error) {
	client, err := a2s.New(ip, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	client.BufferSize = options.BufferSize
	client.Timeout = options.Timeout

	return client.GetInfo()
}

// Query resolves host and returns the live occupancy of the endpoint.
// Failures are always wrapped into ErrQueryTimeout or ErrQueryUnreachable.
func (q *Querier) Query(ctx context.Context, host string, port int) (Occupancy, error) {
	host = strings.TrimSpace(host)
	if host == "" || port <= 0 || port > 65535 {
		return Occupancy{}, fmt.Errorf("%w: no endpoint (host %q, port %d)", ErrQueryUnreachable, host, port)
	}

	ip, err := q.resolveIPv4(ctx, host)
	if err != nil {
		return Occupancy{}, fmt.Errorf("%w: resolve %s: %v", ErrQueryUnreachable, host, err)
	}

	type answer struct {
		info *a2s.Info
		err  error
	}

	// a2s has no context support, the client timeout bounds the goroutine
	done := make(chan answer, 1)
	go func() {
		info, err := q.exchange(ip, port, q.options)
		done <- answer{info: info, err: err}
	}()

	select {
	case <-ctx.Done():
		return Occupancy{}, fmt.Errorf("%w: %s:%d: %v", ErrQueryTimeout, ip, port, ctx.Err())
	case ans := <-done:
		if ans.err != nil {
			return Occupancy{}, classify(ip, port, ans.err)
		}
		if ans.info == nil {
			return Occupancy{}, fmt.Errorf("%w: %s:%d: empty answer", ErrQueryUnreachable, ip, port)
		}

		return Occupancy{
			Name:       ans.info.Name,
			Map:        ans.info.Map,
			Players:    int(ans.info.Players),
			MaxPlayers: int(ans.info.MaxPlayers),
		}, nil
	}
}

// resolveIPv4 returns host as is when it is already an IPv4 address, else the first IPv4 it resolves to.
func (q *Querier) resolveIPv4(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return "", errors.New("IPv6 endpoints are not supported")
		}
		return ip.String(), nil
	}

	addrs, err := q.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}

	return "", fmt.Errorf("no IPv4 address for %s", host)
}

func classify(ip string, port int, err error) error {
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s:%d: %v", ErrQueryTimeout, ip, port, err)
	}

	return fmt.Errorf("%w: %s:%d: %v", ErrQueryUnreachable, ip, port, err)
}
