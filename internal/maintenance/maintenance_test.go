package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/arkstatus/internal/config"
	"github.com/woozymasta/arkstatus/internal/game"
	"github.com/woozymasta/arkstatus/internal/models"
	"github.com/woozymasta/arkstatus/internal/storage"
	"github.com/woozymasta/arkstatus/internal/tenant"
)

type fakeProber struct {
	down  map[string]bool
	calls atomic.Int32
}

func (f *fakeProber) Query(_ context.Context, host string, _ int) (game.Occupancy, error) {
	f.calls.Add(1)
	if f.down[host] {
		return game.Occupancy{}, game.ErrQueryUnreachable
	}
	return game.Occupancy{Players: 1, MaxPlayers: 10}, nil
}

func setup(t *testing.T) (*storage.Repository, *tenant.Store) {
	t.Helper()
	dir := t.TempDir()

	repo, err := storage.New(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	store, err := tenant.NewStore(filepath.Join(dir, "configs"))
	require.NoError(t, err)

	return repo, store
}

func TestPruneOrphans(t *testing.T) {
	repo, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Save("kept", tenant.Config{StatusChannelID: "c"}))
	for _, id := range []string{"kept", "gone"} {
		require.NoError(t, repo.SaveHandle(ctx, models.PublishedMessageHandle{
			TenantID: id, ChannelID: "c", MessageID: "m", PublishedAt: time.Now(),
		}))
	}

	removed, err := PruneOrphans(ctx, repo, store)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	entry, err := repo.GetHandle(ctx, "kept")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestCheckEndpoints(t *testing.T) {
	_, store := setup(t)

	require.NoError(t, store.Save("1", tenant.Config{
		ResourceIDs:   []string{"a", "b", "c"},
		ResourceHosts: map[string]string{"a": "10.0.0.1:27015", "c": "10.0.0.2:27015"},
	}))
	require.NoError(t, store.Save("2", tenant.Config{ResourceIDs: []string{"d"}}))

	prober := &fakeProber{down: map[string]bool{"10.0.0.2": true}}
	probes, err := CheckEndpoints(context.Background(), store, prober)
	require.NoError(t, err)

	require.Len(t, probes, 2)
	assert.EqualValues(t, 2, prober.calls.Load())
	assert.Equal(t, "a", probes[0].Resource.ID)
	assert.NoError(t, probes[0].Err)
	assert.Equal(t, "c", probes[1].Resource.ID)
	assert.True(t, errors.Is(probes[1].Err, game.ErrQueryUnreachable))
}

func TestRunWithoutTask(t *testing.T) {
	repo, store := setup(t)
	assert.False(t, Run(context.Background(), &config.Config{}, repo, store, &fakeProber{}))
}

func TestRunPrune(t *testing.T) {
	repo, store := setup(t)
	cfg := &config.Config{Storage: config.Storage{PruneOrphans: true}}
	assert.True(t, Run(context.Background(), cfg, repo, store, &fakeProber{}))
}
