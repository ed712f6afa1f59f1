// Package fake generates random tenant configs for local development.
package fake

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/tenant"
)

// GenerateTenants writes count random tenant configs into the store.
// Tokens are random placeholders, so generated tenants render the upstream failure path.
func GenerateTenants(store *tenant.Store, count int) int {
	maps := []string{"TheIsland", "ScorchedEarth", "Aberration", "Extinction", "Ragnarok", "Valguero", "CrystalIsles", "LostIsland", "Fjordur"}
	tribes := []string{"Raptor Claws", "Dodo Kings", "Alpha Pack", "Wyvern Riders", "Beaver Dam Co"}

	written := 0
	for i := 0; i < count; i++ {
		tenantID := strconv.FormatInt(100000000000000000+rand.Int63n(900000000000000000), 10)

		cfg := tenant.Config{
			Meta: &tenant.Meta{
				GuildName: tribes[rand.Intn(len(tribes))],
				CreatedAt: time.Now().Add(-time.Duration(rand.Intn(90*24)) * time.Hour).UTC(),
			},
			StatusChannelID: strconv.FormatInt(100000000000000000+rand.Int63n(900000000000000000), 10),
			ResourceNames:   map[string]string{},
		}

		// 10% without a token, 10% without servers
		if rand.Float32() >= 0.1 {
			cfg.CredentialToken = uuid.NewString()
			cfg.TokenPreview = tenant.Preview(cfg.CredentialToken)
		}

		servers := 0
		if rand.Float32() >= 0.1 {
			servers = 1 + rand.Intn(6)
		}
		for j := 0; j < servers; j++ {
			id := strconv.Itoa(10000000 + rand.Intn(9000000))
			cfg.ResourceIDs = append(cfg.ResourceIDs, id)
			if rand.Float32() < 0.5 {
				cfg.ResourceNames[id] = fmt.Sprintf("%s %s", tribes[rand.Intn(len(tribes))], maps[rand.Intn(len(maps))])
			}
		}
		cfg.LinkedServers = append([]string(nil), cfg.ResourceIDs...)

		if err := store.Save(tenantID, cfg); err != nil {
			log.Warn().Err(err).Str("tenant", tenantID).Msg("Failed to generate fake tenant")
			continue
		}
		written++
	}

	return written
}
