package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func valid() Config {
	return Config{
		Discord: Discord{Token: "bot"},
		Poll:    Poll{Interval: 10 * time.Minute, CycleTimeout: time.Minute},
		Server:  Server{Address: ":8080", AuthToken: "admin"},
	}
}

func TestValidate(t *testing.T) {
	cfg := valid()
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Discord.Token = ""
	assert.Error(t, cfg.Validate())

	cfg.Storage.PruneOrphans = true
	cfg.Server.AuthToken = ""
	assert.NoError(t, cfg.Validate(), "maintenance tasks need neither discord nor admin tokens")

	cfg = valid()
	cfg.Server.AuthToken = ""
	assert.Error(t, cfg.Validate())

	cfg.Server.Address = ""
	assert.NoError(t, cfg.Validate(), "disabled admin API needs no token")

	cfg = valid()
	cfg.Poll.Interval = 30 * time.Second
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Poll.CycleTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestOffline(t *testing.T) {
	assert.False(t, Storage{}.Offline())
	assert.True(t, Storage{CheckEndpoints: true}.Offline())
	assert.True(t, Storage{GenerateCount: 3}.Offline())
}
