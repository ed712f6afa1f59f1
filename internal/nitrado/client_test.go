package nitrado

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/arkstatus/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pool := NewPool(config.Nitrado{
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		RateBurst:   100,
		BreakerTrip: 3,
		BreakerOpen: time.Minute,
	})

	return pool.Client("secret-token")
}

func TestMetadataFullPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/42/gameservers", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"gameserver":{
			"status":"started","label":"ni","ip":"10.0.0.5","port":7777,"query_port":"27015","slots":20,
			"settings":{"config":{"map":"TheIsland","server-name":"Island PvE"}},
			"query":{"server_name":"Island PvE #1","map":"TheIsland","player_current":3,"player_max":20}
		}}}`))
	}))

	md, err := c.Metadata(context.Background(), "42")
	require.NoError(t, err)

	status, ok := md.Status.Get()
	assert.True(t, ok)
	assert.Equal(t, "started", status)

	qp, ok := md.QueryPort.Get()
	assert.True(t, ok)
	assert.Equal(t, 27015, qp)

	slots, _ := md.Slots.Get()
	assert.Equal(t, 20, slots)

	name, _ := md.ConfigName.Get()
	assert.Equal(t, "Island PvE", name)

	assert.True(t, md.Query.HasPlayers())
	players, _ := md.Query.PlayerCurrent.Get()
	assert.Equal(t, 3, players)
}

func TestMetadataTolerantShapes(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"gameserver":{"status":null,"label":"","settings":[],"query":[],"slots":"n/a"}}}`))
	}))

	md, err := c.Metadata(context.Background(), "7")
	require.NoError(t, err)

	_, ok := md.Status.Get()
	assert.False(t, ok)
	_, ok = md.Label.Get()
	assert.False(t, ok)
	_, ok = md.Slots.Get()
	assert.False(t, ok)
	_, ok = md.ConfigMap.Get()
	assert.False(t, ok)
	assert.False(t, md.Query.HasPlayers())
}

func TestQueryBothShapes(t *testing.T) {
	wrapped := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/1/gameservers/query", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"query":{"player_current":4,"player_max":10}}}`))
	}))
	q, err := wrapped.Query(context.Background(), "1")
	require.NoError(t, err)
	n, _ := q.PlayerCurrent.Get()
	assert.Equal(t, 4, n)

	inline := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"player_current":"6","player_max":12,"map":"Ragnarok"}}`))
	}))
	q, err = inline.Query(context.Background(), "1")
	require.NoError(t, err)
	n, _ = q.PlayerCurrent.Get()
	assert.Equal(t, 6, n)
	m, _ := q.Map.Get()
	assert.Equal(t, "Ragnarok", m)
}

func TestOnlinePlayers(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/9/players", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"players":[{"name":"a","online":true},{"name":"b","online":false},{"name":"c"}]}}`))
	}))

	n, err := c.OnlinePlayers(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestServicesArkFilter(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"services":[
			{"id":101,"type":"gameserver","details":{"name":"Island","game":"ARK: Survival Evolved"}},
			{"id":102,"type":"gameserver","details":{"name":"Mine","game":"Minecraft"}},
			{"id":103,"type":"cloud_server","details":{"name":"Box","game":""}},
			{"id":"104","type":"gameserver","details":{"name":"Gen2","game":"arkse"}}
		]}}`))
	}))

	services, err := c.Services(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 4)

	ark := ArkServers(services)
	require.Len(t, ark, 2)
	assert.Equal(t, "101", ark[0].ID)
	assert.Equal(t, "Island", ark[0].Name)
	assert.Equal(t, "104", ark[1].ID)
}

func TestUpstreamFailures(t *testing.T) {
	status := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	_, err := status.Metadata(context.Background(), "1")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)

	malformed := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":`))
	}))
	_, err = malformed.Metadata(context.Background(), "1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for range 5 {
		_, err := c.Metadata(context.Background(), "1")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	}

	assert.Equal(t, int32(3), hits.Load(), "breaker must stop calls after the trip threshold")
}

func TestPoolReusesClientPerToken(t *testing.T) {
	pool := NewPool(config.Nitrado{BaseURL: "http://example.invalid"})

	a := pool.Client("one")
	assert.Same(t, a, pool.Client("one"))
	assert.NotSame(t, a, pool.Client("two"))

	pool.Forget("one")
	assert.NotSame(t, a, pool.Client("one"))
}
