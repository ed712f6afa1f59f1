// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/arkstatus/internal/logger"
	"github.com/woozymasta/arkstatus/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Discord Discord       `group:"Discord Options" namespace:"discord" env-namespace:"ARKSTATUS_DISCORD"`
	Nitrado Nitrado       `group:"Nitrado Options" namespace:"nitrado" env-namespace:"ARKSTATUS_NITRADO"`
	A2S     A2S           `group:"A2S Options" namespace:"a2s" env-namespace:"ARKSTATUS_A2S"`
	Poll    Poll          `group:"Poll Options" namespace:"poll" env-namespace:"ARKSTATUS_POLL"`
	Tenants Tenants       `group:"Tenant Options" namespace:"tenants" env-namespace:"ARKSTATUS_TENANTS"`
	Storage Storage       `group:"Storage Options" namespace:"db" env-namespace:"ARKSTATUS_DB"`
	GeoIP   GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"ARKSTATUS_GEOIP"`
	Server  Server        `group:"Admin Server Options" namespace:"admin" env-namespace:"ARKSTATUS_ADMIN"`
	Logger  logger.Config `group:"Logger Options" namespace:"log" env-namespace:"ARKSTATUS_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Discord holds the bot credentials and channel pacing.
type Discord struct {
	// betteralign:ignore

	Token        string        `short:"b" long:"token" env:"TOKEN" description:"Discord bot token"`
	RateInterval time.Duration `long:"rate-interval" env:"RATE_INTERVAL" description:"Minimal interval between channel API calls" default:"250ms"`
	RateBurst    int           `long:"rate-burst" env:"RATE_BURST" description:"Channel API calls burst" default:"5"`
	SweepHistory bool          `long:"sweep-history" env:"SWEEP_HISTORY" description:"Delete stale bot reports from channel history when no prior message is known"`
}

// Nitrado holds management API client configuration.
type Nitrado struct {
	// betteralign:ignore

	BaseURL      string        `long:"base-url" env:"BASE_URL" description:"Management API base URL" default:"https://api.nitrado.net"`
	Timeout      time.Duration `long:"timeout" env:"TIMEOUT" description:"HTTP request timeout" default:"10s"`
	RateInterval time.Duration `long:"rate-interval" env:"RATE_INTERVAL" description:"Minimal interval between requests per token" default:"100ms"`
	RateBurst    int           `long:"rate-burst" env:"RATE_BURST" description:"Requests burst per token" default:"20"`
	BreakerTrip  uint32        `long:"breaker-trip" env:"BREAKER_TRIP" description:"Consecutive failures that open the circuit breaker" default:"5"`
	BreakerOpen  time.Duration `long:"breaker-open" env:"BREAKER_OPEN" description:"How long the circuit breaker stays open" default:"2m"`
}

// A2S holds Source Query protocol configuration.
type A2S struct {
	// betteralign:ignore

	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
}

// Poll holds report cadence configuration.
type Poll struct {
	// betteralign:ignore

	Interval     time.Duration `short:"i" long:"interval" env:"INTERVAL" description:"Report refresh interval" default:"10m"`
	CycleTimeout time.Duration `long:"cycle-timeout" env:"CYCLE_TIMEOUT" description:"Upper bound for a single tenant cycle" default:"1m"`
	Once         bool          `long:"once" description:"Run a single cycle for every tenant and exit"`
}

// Tenants holds tenant configuration store settings.
type Tenants struct {
	// betteralign:ignore

	Dir string `short:"c" long:"dir" env:"DIR" description:"Directory with per-tenant JSON configs" default:"configs"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Path           string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"arkstatus.db"`
	PruneOrphans   bool   `long:"prune-orphans" description:"Delete stored report handles of tenants without config and exit"`
	CheckEndpoints bool   `long:"check-endpoints" description:"Probe every configured endpoint override over A2S, report unreachable ones and exit"`
	GenerateCount  int    `long:"gen-fake-tenants" hidden:"true"`
}

// Offline reports whether a maintenance task was requested instead of the service.
func (s Storage) Offline() bool {
	return s.PruneOrphans || s.CheckEndpoints || s.GenerateCount > 0
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file, empty disables region lookup" default:""`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// Server holds admin web server configuration.
type Server struct {
	// betteralign:ignore

	Address     string        `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Admin API listen address, empty disables it" default:":8080"`
	AuthToken   string        `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token"`
	MaxBodySize int64         `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"4096"`
	TrustProxy  bool          `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	RateCount   int           `long:"rate-count" env:"RATE_COUNT" description:"Per-IP limit: requests count" default:"30"`
	RateWindow  time.Duration `long:"rate-window" env:"RATE_WINDOW" description:"Per-IP limit: window duration" default:"1m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return &cfg
}

// Validate checks cross-field requirements that go-flags cannot express.
func (c *Config) Validate() error {
	offline := c.Storage.Offline()

	if c.Discord.Token == "" && !offline {
		return fmt.Errorf("required flag `-b, --discord-token' or environment variable `ARKSTATUS_DISCORD_TOKEN` was not specified")
	}

	if c.Server.Address != "" && c.Server.AuthToken == "" && !offline && !c.Poll.Once {
		return fmt.Errorf("required flag `-t, --admin-auth-token' or environment variable `ARKSTATUS_ADMIN_AUTH_TOKEN` was not specified")
	}

	if c.Poll.Interval < time.Minute {
		return fmt.Errorf("poll interval %s is too short, minimum is 1m", c.Poll.Interval)
	}

	if c.Poll.CycleTimeout <= 0 {
		return fmt.Errorf("cycle timeout must be positive")
	}

	return nil
}
