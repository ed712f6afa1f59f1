// Package maintenance provides one-shot database and tenant config tasks
package maintenance

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/config"
	"github.com/woozymasta/arkstatus/internal/game"
	"github.com/woozymasta/arkstatus/internal/models"
	"github.com/woozymasta/arkstatus/internal/storage"
	"github.com/woozymasta/arkstatus/internal/tenant"
)

const workers = 10

// Prober queries one game endpoint.
type Prober interface {
	Query(ctx context.Context, host string, port int) (game.Occupancy, error)
}

// Probe is the outcome of checking one endpoint override.
type Probe struct {
	Err      error
	TenantID string
	Resource models.TrackedResource
}

// Run checks if any maintenance flags are set and executes the corresponding task.
// Returns true if a task was executed, the program should exit afterwards.
func Run(ctx context.Context, cfg *config.Config, repo *storage.Repository, tenants *tenant.Store, prober Prober) bool {
	switch {
	case cfg.Storage.PruneOrphans:
		count, err := PruneOrphans(ctx, repo, tenants)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune report handles")
		} else {
			log.Info().Int64("deleted", count).Msg("Prune finished")
		}
		return true

	case cfg.Storage.CheckEndpoints:
		probes, err := CheckEndpoints(ctx, tenants, prober)
		if err != nil {
			log.Error().Err(err).Msg("Failed to check endpoints")
			return true
		}

		failed := 0
		for _, p := range probes {
			if p.Err == nil {
				continue
			}
			failed++
			log.Warn().
				Err(p.Err).
				Str("tenant", p.TenantID).
				Str("resource", p.Resource.ID).
				Str("host", p.Resource.Host).
				Int("port", p.Resource.QueryPort).
				Msg("Endpoint override unreachable")
		}
		log.Info().Int("checked", len(probes)).Int("unreachable", failed).Msg("Endpoint check completed")
		return true
	}

	return false
}

// PruneOrphans removes stored handles of tenants that no longer have a config file.
func PruneOrphans(ctx context.Context, repo *storage.Repository, tenants *tenant.Store) (int64, error) {
	ids, err := tenants.List()
	if err != nil {
		return 0, err
	}

	log.Info().Int("tenants", len(ids)).Msg("Pruning report handles of unknown tenants...")

	return repo.DeleteHandlesExcept(ctx, ids)
}

// CheckEndpoints probes every endpoint override of every tenant with a bounded worker pool.
// Results keep tenant order, then resource order.
func CheckEndpoints(ctx context.Context, tenants *tenant.Store, prober Prober) ([]Probe, error) {
	ids, err := tenants.List()
	if err != nil {
		return nil, err
	}

	var probes []Probe
	for _, id := range ids {
		cfg, err := tenants.Load(id)
		if err != nil {
			log.Warn().Err(err).Str("tenant", id).Msg("Skip unreadable tenant config")
			continue
		}
		for _, res := range cfg.Resources() {
			if res.Host != "" {
				probes = append(probes, Probe{TenantID: id, Resource: res})
			}
		}
	}

	if len(probes) == 0 {
		log.Info().Msg("No endpoint overrides found")
		return nil, nil
	}

	log.Info().Int("count", len(probes)).Msgf("Probing endpoints with %d workers...", workers)
	runWorkerPool(ctx, probes, prober)

	return probes, nil
}

func runWorkerPool(ctx context.Context, probes []Probe, prober Prober) {
	jobs := make(chan int, len(probes))
	var wg sync.WaitGroup

	for range min(workers, len(probes)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := probes[i].Resource
				_, probes[i].Err = prober.Query(ctx, res.Host, res.QueryPort)
			}
		}()
	}

	for i := range probes {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
}
