package fake

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/arkstatus/internal/tenant"
)

func TestGenerateTenants(t *testing.T) {
	store, err := tenant.NewStore(filepath.Join(t.TempDir(), "configs"))
	require.NoError(t, err)

	written := GenerateTenants(store, 5)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Len(t, ids, written)

	for _, id := range ids {
		cfg, err := store.Load(id)
		require.NoError(t, err)
		assert.NotEmpty(t, cfg.StatusChannelID)
		require.NotNil(t, cfg.Meta)
		assert.Len(t, cfg.Resources(), len(cfg.ResourceIDs))
	}
}
