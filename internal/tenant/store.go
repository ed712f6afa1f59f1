// Package tenant persists per-tenant settings as JSON files, one file per tenant.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/woozymasta/arkstatus/internal/models"
)

// ErrConfigMissing marks a tenant without a report channel; such tenants are skipped, not failed.
var ErrConfigMissing = errors.New("tenant config missing")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Meta is written once, when the tenant config is first saved.
type Meta struct {
	GuildName string    `json:"guild_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds the settings of one tenant.
type Config struct {
	Meta            *Meta             `json:"__meta__,omitempty"`
	ResourceNames   map[string]string `json:"server_names,omitempty"`
	ResourceHosts   map[string]string `json:"server_endpoints,omitempty"`
	StatusChannelID string            `json:"status_channel_id,omitempty"`
	CredentialToken string            `json:"nitrado_token,omitempty"`
	TokenPreview    string            `json:"nitrado_token_preview,omitempty"`
	ResourceIDs     []string          `json:"server_ids,omitempty"`
	LinkedServers   []string          `json:"linked_servers,omitempty"`
}

// Resources returns the tracked resources in configured order.
// Endpoint overrides are "host:port" strings; malformed ones are ignored.
func (c Config) Resources() []models.TrackedResource {
	out := make([]models.TrackedResource, 0, len(c.ResourceIDs))
	for _, id := range c.ResourceIDs {
		res := models.TrackedResource{ID: id, CustomName: c.ResourceNames[id]}
		if ep, ok := c.ResourceHosts[id]; ok {
			if host, port, ok := splitEndpoint(ep); ok {
				res.Host, res.QueryPort = host, port
			}
		}
		out = append(out, res)
	}

	return out
}

// Preview masks a token for display: first and last four characters.
func Preview(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("•", len(token))
	}

	return token[:4] + "••••" + token[len(token)-4:]
}

// Store reads and writes tenant configs under a directory.
// Loads run concurrently; writes are exclusive and replace files atomically.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create tenant config dir: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Load returns the config of a tenant, an empty config when none was saved yet.
func (s *Store) Load(tenantID string) (Config, error) {
	if err := validateID(tenantID); err != nil {
		return Config{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.read(tenantID)
}

// Save replaces the config of a tenant.
func (s *Store) Save(tenantID string, cfg Config) error {
	return s.Update(tenantID, func(c *Config) error {
		meta := c.Meta
		*c = cfg
		if c.Meta == nil {
			c.Meta = meta
		}
		return nil
	})
}

// Update runs fn over the current config inside the exclusive write section and persists the result.
func (s *Store) Update(tenantID string, fn func(*Config) error) error {
	if err := validateID(tenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.read(tenantID)
	if err != nil {
		return err
	}

	if err := fn(&cfg); err != nil {
		return err
	}

	if cfg.Meta == nil {
		cfg.Meta = &Meta{GuildName: "Unknown", CreatedAt: time.Now().UTC()}
	}

	return s.write(tenantID, cfg)
}

// List returns the ids of all tenants with a saved config, sorted.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read tenant config dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if idPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

func (s *Store) path(tenantID string) string {
	return filepath.Join(s.dir, tenantID+".json")
}

func (s *Store) read(tenantID string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(s.path(tenantID))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read tenant %s config: %w", tenantID, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode tenant %s config: %w", tenantID, err)
	}

	return cfg, nil
}

// write stores the config in a temp file of the same directory and renames it into place.
func (s *Store) write(tenantID string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode tenant %s config: %w", tenantID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+tenantID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(tenantID)); err != nil {
		return fmt.Errorf("replace tenant %s config: %w", tenantID, err)
	}

	return nil
}

// ValidID reports whether tenantID can name a config file.
func ValidID(tenantID string) bool {
	return idPattern.MatchString(tenantID)
}

func validateID(tenantID string) error {
	if !ValidID(tenantID) {
		return fmt.Errorf("invalid tenant id %q", tenantID)
	}

	return nil
}

func splitEndpoint(ep string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(ep))
	if err != nil || host == "" {
		return "", 0, false
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false
	}

	return host, port, true
}
