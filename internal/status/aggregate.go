package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/models"
	"golang.org/x/sync/errgroup"
)

// Notices carried by sentinel reports instead of records.
const (
	NoticeNoToken     = "❌ No token configured. Link a Nitrado token to start monitoring."
	NoticeNoResources = "⚠️ No servers configured for this guild."
)

// APIFactory returns the management API client bound to a tenant credential.
type APIFactory func(token string) ManagementAPI

// Aggregator fans reconciliation out over the resources of a tenant.
type Aggregator struct {
	reconciler *Reconciler
	api        APIFactory
	now        func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(reconciler *Reconciler, api APIFactory) *Aggregator {
	return &Aggregator{
		reconciler: reconciler,
		api:        api,
		now:        time.Now,
	}
}

// outcome is the result of one resource task, converted at the join point.
type outcome struct {
	err    error
	record models.ResourceStatusRecord
}

// Aggregate builds the report of one tenant. Every resource runs concurrently and the call
// returns once all of them finished; a failing resource never affects its siblings.
func (a *Aggregator) Aggregate(ctx context.Context, tenantID, token string, resources []models.TrackedResource) models.TenantReport {
	report := models.TenantReport{
		TenantID:    tenantID,
		GeneratedAt: a.now().UTC(),
		Records:     []models.ResourceStatusRecord{},
	}

	if strings.TrimSpace(token) == "" {
		report.Notice = NoticeNoToken
		report.Severity = models.SeverityCritical
		return report
	}
	if len(resources) == 0 {
		report.Notice = NoticeNoResources
		report.Severity = models.SeverityWarning
		return report
	}

	api := a.api(token)
	outcomes := make([]outcome, len(resources))

	var g errgroup.Group
	for i, res := range resources {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					outcomes[i].err = fmt.Errorf("resolve panicked: %v", p)
				}
			}()

			outcomes[i].record, outcomes[i].err = a.reconciler.Resolve(ctx, api, res)
			return nil
		})
	}
	_ = g.Wait()

	records := make([]models.ResourceStatusRecord, len(resources))
	for i, o := range outcomes {
		if o.err != nil {
			log.Warn().
				Err(o.err).
				Str("tenant", tenantID).
				Str("resource", resources[i].ID).
				Msg("Resource resolution failed, substituting defaults")
			records[i] = models.DefaultRecord(resources[i])
			continue
		}
		records[i] = o.record
	}

	report.Records = Partition(records)
	report.Severity = Severity(report.Records)

	return report
}

// Partition stably moves unreachable records after all others, keeping input order within each group.
func Partition(records []models.ResourceStatusRecord) []models.ResourceStatusRecord {
	out := make([]models.ResourceStatusRecord, 0, len(records))
	for _, r := range records {
		if r.Health != models.HealthUnreachable {
			out = append(out, r)
		}
	}
	for _, r := range records {
		if r.Health == models.HealthUnreachable {
			out = append(out, r)
		}
	}

	return out
}

// Severity is the maximum severity of the records, nominal for none.
func Severity(records []models.ResourceStatusRecord) models.Severity {
	severity := models.SeverityNominal
	for _, r := range records {
		severity = severity.Max(r.Health.Severity())
	}

	return severity
}
