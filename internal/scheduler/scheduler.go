// Package scheduler drives the aggregate and publish cycle of every tenant on a shared ticker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/metrics"
	"github.com/woozymasta/arkstatus/internal/models"
	"github.com/woozymasta/arkstatus/internal/storage"
	"github.com/woozymasta/arkstatus/internal/tenant"
)

// persistTimeout bounds handle writes, they run detached from the cycle deadline.
const persistTimeout = 5 * time.Second

// publishTimeout bounds the Discord calls of one cycle, the aggregation deadline does not apply to them.
const publishTimeout = 30 * time.Second

// Cycle results, also used as metric labels.
const (
	ResultPublished = "published"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Tenants is the tenant configuration source.
type Tenants interface {
	List() ([]string, error)
	Load(tenantID string) (tenant.Config, error)
}

// Aggregator builds the report of one tenant.
type Aggregator interface {
	Aggregate(ctx context.Context, tenantID, token string, resources []models.TrackedResource) models.TenantReport
}

// Publisher replaces the live report message of a tenant.
type Publisher interface {
	Publish(ctx context.Context, report models.TenantReport, channelID string, prior models.PublishedMessageHandle) (models.PublishedMessageHandle, error)
	Retract(ctx context.Context, handle models.PublishedMessageHandle)
}

// Handles persists the live message handle of each tenant.
type Handles interface {
	GetHandle(ctx context.Context, tenantID string) (*storage.Entry, error)
	SaveHandle(ctx context.Context, h models.PublishedMessageHandle) error
	RecordFailure(ctx context.Context, tenantID, channelID string, cause error) error
	DeleteHandle(ctx context.Context, tenantID string) error
}

// Options tune the scheduler cadence.
type Options struct {
	Interval     time.Duration
	CycleTimeout time.Duration
}

// entry is the per-tenant state; its mutex serialises cycles of the same tenant.
type entry struct {
	handle models.PublishedMessageHandle
	mu     sync.Mutex
	loaded bool
}

// Scheduler owns the message handle of every tenant and runs their cycles.
type Scheduler struct {
	tenants    Tenants
	aggregator Aggregator
	publisher  Publisher
	handles    Handles
	entries    map[string]*entry
	opts       Options
	mu         sync.Mutex
}

// New creates a scheduler.
func New(tenants Tenants, aggregator Aggregator, publisher Publisher, handles Handles, opts Options) *Scheduler {
	return &Scheduler{
		tenants:    tenants,
		aggregator: aggregator,
		publisher:  publisher,
		handles:    handles,
		opts:       opts,
		entries:    make(map[string]*entry),
	}
}

// Run performs a pass immediately and then one per interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.opts.Interval).Msg("Scheduler started")

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs the cycle of every tenant sequentially.
// A failing tenant never stops the pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ids, err := s.tenants.List()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list tenants")
		return
	}

	started := time.Now()
	counts := map[string]int{}

	for i, id := range ids {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(ids)-i).Msg("Pass interrupted")
			return
		}

		result, _ := s.cycle(ctx, id)
		counts[result]++
	}

	log.Info().
		Int("tenants", len(ids)).
		Int(ResultPublished, counts[ResultPublished]).
		Int(ResultSkipped, counts[ResultSkipped]).
		Int(ResultFailed, counts[ResultFailed]).
		Dur("took", time.Since(started)).
		Msg("Pass completed")
}

// TriggerNow runs the cycle of one tenant immediately on the regular path.
// Returns tenant.ErrConfigMissing when the tenant has no report channel.
func (s *Scheduler) TriggerNow(ctx context.Context, tenantID string) error {
	_, err := s.cycle(ctx, tenantID)
	return err
}

// Preview aggregates the report of a tenant without publishing it.
func (s *Scheduler) Preview(ctx context.Context, tenantID string) (models.TenantReport, error) {
	cfg, err := s.tenants.Load(tenantID)
	if err != nil {
		return models.TenantReport{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	return s.aggregator.Aggregate(ctx, tenantID, cfg.CredentialToken, cfg.Resources()), nil
}

// Handle returns the current live message handle of a tenant.
func (s *Scheduler) Handle(ctx context.Context, tenantID string) (models.PublishedMessageHandle, error) {
	e := s.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.load(ctx, tenantID, e); err != nil {
		return models.PublishedMessageHandle{}, err
	}

	return e.handle, nil
}

// Retire deletes the live message of a tenant and forgets its handle.
func (s *Scheduler) Retire(ctx context.Context, tenantID string) error {
	e := s.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.load(ctx, tenantID, e); err != nil {
		return err
	}

	s.publisher.Retract(ctx, e.handle)
	e.handle = models.PublishedMessageHandle{}

	return s.handles.DeleteHandle(ctx, tenantID)
}

func (s *Scheduler) entry(tenantID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tenantID]
	if !ok {
		e = &entry{}
		s.entries[tenantID] = e
	}

	return e
}

// load reads the persisted handle once per process lifetime, caller holds e.mu.
func (s *Scheduler) load(ctx context.Context, tenantID string, e *entry) error {
	if e.loaded {
		return nil
	}

	stored, err := s.handles.GetHandle(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load handle of tenant %s: %w", tenantID, err)
	}
	if stored != nil {
		e.handle = stored.PublishedMessageHandle
	}
	e.loaded = true

	return nil
}

// cycle runs Aggregate then Publish for one tenant and contains every failure.
func (s *Scheduler) cycle(ctx context.Context, tenantID string) (result string, err error) {
	logger := log.With().Str("tenant", tenantID).Str("cycle", uuid.NewString()).Logger()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tenant %s cycle panic: %v", tenantID, r)
			result = ResultFailed
		}

		metrics.Cycles.WithLabelValues(result).Inc()
		metrics.CycleDuration.Observe(time.Since(started).Seconds())

		event := logger.Debug()
		if result == ResultFailed {
			event = logger.Error().Err(err)
		}
		event.Str("result", result).Dur("took", time.Since(started)).Msg("Tenant cycle finished")
	}()

	// config is read under e.mu, Retire serializes with the whole cycle
	e := s.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := s.tenants.Load(tenantID)
	if err != nil {
		return ResultFailed, err
	}
	if cfg.StatusChannelID == "" {
		return ResultSkipped, tenant.ErrConfigMissing
	}

	if err := s.load(ctx, tenantID, e); err != nil {
		return ResultFailed, err
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	report := s.aggregator.Aggregate(cycleCtx, tenantID, cfg.CredentialToken, cfg.Resources())
	observe(tenantID, report)

	pubCtx, cancelPub := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancelPub()

	handle, pubErr := s.publisher.Publish(pubCtx, report, cfg.StatusChannelID, e.handle)
	e.handle = handle

	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	if pubErr != nil {
		if err := s.handles.RecordFailure(persistCtx, tenantID, cfg.StatusChannelID, pubErr); err != nil {
			logger.Warn().Err(err).Msg("Failed to record publish failure")
		}
		return ResultFailed, pubErr
	}

	if err := s.handles.SaveHandle(persistCtx, handle); err != nil {
		logger.Warn().Err(err).Str("message", handle.MessageID).Msg("Failed to persist report handle")
	}

	return ResultPublished, nil
}

// observe exports the health class counts of the latest report.
func observe(tenantID string, report models.TenantReport) {
	metrics.Resources.DeletePartialMatch(prometheus.Labels{"tenant": tenantID})

	counts := map[models.HealthClass]int{}
	for _, rec := range report.Records {
		counts[rec.Health]++
	}
	for health, n := range counts {
		metrics.Resources.WithLabelValues(tenantID, health.String()).Set(float64(n))
	}
}

// IsSkip reports whether a cycle error only means the tenant is not configured for reports.
func IsSkip(err error) bool {
	return errors.Is(err, tenant.ErrConfigMissing)
}
