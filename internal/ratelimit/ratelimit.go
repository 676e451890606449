// Package ratelimit enforces the SMTP probe budget across processes by
// keeping its counters in the contact store.
package ratelimit

import (
	"context"
	"log"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

const hourBucketLayout = "2006-01-02T15"

// ProbeBudget is a global daily cap plus a per-domain hourly cap.
type ProbeBudget struct {
	db        *database.DB
	dailyCap  int
	hourlyCap int
	clock     clockwork.Clock
}

// Usage is a snapshot of today's global budget.
type Usage struct {
	Day       string
	Used      int
	Cap       int
	Remaining int
}

// New creates a probe budget from the discovery config. A nil clock uses
// the wall clock.
func New(db *database.DB, cfg config.Discovery, clock clockwork.Clock) *ProbeBudget {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProbeBudget{db: db, dailyCap: cfg.DailyCap, hourlyCap: cfg.PerDomainPerHour, clock: clock}
}

// Acquire consumes one probe for domain if both caps allow it. Storage
// errors deny the probe.
func (b *ProbeBudget) Acquire(ctx context.Context, domain string) bool {
	if ctx.Err() != nil {
		return false
	}
	now := b.clock.Now().UTC()
	day := database.FormatDate(now)
	hour := now.Format(hourBucketLayout)

	ok, err := b.db.AcquireProbe(day, hour, strings.ToLower(domain), b.dailyCap, b.hourlyCap)
	if err != nil {
		log.Printf("Error checking probe budget for %s: %v", domain, err)
		return false
	}
	if !ok {
		log.Printf("Probe budget exhausted for %s, treating probe as inconclusive", domain)
	}
	return ok
}

// Usage reports probes spent today against the daily cap.
func (b *ProbeBudget) Usage(_ context.Context) (*Usage, error) {
	day := database.FormatDate(b.clock.Now().UTC())
	used, err := b.db.ProbeCount(database.GlobalProbeScope, day)
	if err != nil {
		return nil, err
	}
	remaining := b.dailyCap - used
	if remaining < 0 {
		remaining = 0
	}
	return &Usage{Day: day, Used: used, Cap: b.dailyCap, Remaining: remaining}, nil
}

// Prune drops counters older than today.
func (b *ProbeBudget) Prune(_ context.Context) (int64, error) {
	return b.db.PruneProbeCounters(database.FormatDate(b.clock.Now().UTC()))
}
