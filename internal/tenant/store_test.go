package tenant

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/arkstatus/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "configs"))
	require.NoError(t, err)
	return s
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	cfg, err := newStore(t).Load("123")
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestSaveKeepsFirstMeta(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Save("123", Config{
		Meta:            &Meta{GuildName: "Tribe"},
		StatusChannelID: "555",
		ResourceIDs:     []string{"1", "2"},
	}))

	require.NoError(t, s.Save("123", Config{StatusChannelID: "777"}))

	cfg, err := s.Load("123")
	require.NoError(t, err)
	assert.Equal(t, "777", cfg.StatusChannelID)
	assert.Empty(t, cfg.ResourceIDs)
	require.NotNil(t, cfg.Meta)
	assert.Equal(t, "Tribe", cfg.Meta.GuildName)
}

func TestFileLayout(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("42", Config{
		StatusChannelID: "9",
		CredentialToken: "tok",
		ResourceIDs:     []string{"1"},
		ResourceNames:   map[string]string{"1": "Island"},
	}))

	data, err := os.ReadFile(filepath.Join(s.dir, "42.json"))
	require.NoError(t, err)
	for _, key := range []string{`"status_channel_id"`, `"server_ids"`, `"server_names"`, `"nitrado_token"`, `"__meta__"`} {
		assert.Contains(t, string(data), key)
	}

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestListAndInvalidIDs(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("b", Config{}))
	require.NoError(t, s.Save("a", Config{}))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o600))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = s.Load("../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Save("", Config{}))
}

func TestConcurrentReadsNeverTorn(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("1", Config{StatusChannelID: "c"}))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update("1", func(c *Config) error {
				c.ResourceIDs = append(c.ResourceIDs, fmt.Sprint(i))
				return nil
			}))
		}()
		go func() {
			defer wg.Done()
			cfg, err := s.Load("1")
			assert.NoError(t, err)
			assert.Equal(t, "c", cfg.StatusChannelID)
		}()
	}
	wg.Wait()

	cfg, err := s.Load("1")
	require.NoError(t, err)
	assert.Len(t, cfg.ResourceIDs, 20)
}

func TestResources(t *testing.T) {
	cfg := Config{
		ResourceIDs:   []string{"3", "1", "2"},
		ResourceNames: map[string]string{"1": "Main"},
		ResourceHosts: map[string]string{"1": "10.0.0.1:27015", "2": "broken"},
	}

	assert.Equal(t, []models.TrackedResource{
		{ID: "3"},
		{ID: "1", CustomName: "Main", Host: "10.0.0.1", QueryPort: 27015},
		{ID: "2"},
	}, cfg.Resources())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abcd••••wxyz", Preview("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "•••", Preview("abc"))
}
