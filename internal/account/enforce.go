package account

import (
	"context"
	"fmt"
	"log"
)

// MaintenanceResult holds the counts from one daily maintenance run.
type MaintenanceResult struct {
	Recalculated int
	Reactivated  int
	Parked       int
	Errors       int
}

// EnforceRevisitExpiry moves revisit contacts whose timer has run out back
// to cold. Contacts that changed state in the meantime are skipped.
func (m *Manager) EnforceRevisitExpiry(ctx context.Context) (int, error) {
	ids, err := m.db.ListExpiredRevisits(m.today())
	if err != nil {
		return 0, fmt.Errorf("listing expired revisits: %w", err)
	}

	count := 0
	for _, id := range ids {
		res, err := m.apply(ctx, id, change{
			to:    Cold,
			notes: "Revisit expired, reactivated",
			from:  []Status{Revisit},
		})
		if err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			log.Printf("Error reactivating contact #%d: %v", id, err)
			continue
		}
		if res.Success {
			count++
		} else if res.Err != nil {
			log.Printf("Skipped reactivating contact #%d: %v", id, res.Err)
		}
	}
	return count, nil
}

// EnforceNoReplyRevisit parks cold/contacted contacts that have had the
// configured number of outbound email touches without any inbound touch.
func (m *Manager) EnforceNoReplyRevisit(ctx context.Context) (int, error) {
	threshold := m.cfg.NoReplyTouches
	if threshold <= 0 {
		threshold = 3
	}
	ids, err := m.db.ListNoReplyCandidates(threshold)
	if err != nil {
		return 0, fmt.Errorf("listing no-reply candidates: %w", err)
	}

	count := 0
	for _, id := range ids {
		res, err := m.apply(ctx, id, change{
			to:         Revisit,
			notes:      fmt.Sprintf("%d email touches with no reply, parked", threshold),
			from:       []Status{Cold, Contacted},
			nextAction: NextNoReplyRevisit,
			timerDays:  m.cfg.RevisitNoReplyDays,
		})
		if err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			log.Printf("Error parking contact #%d: %v", id, err)
			continue
		}
		if res.Success {
			count++
		}
	}
	return count, nil
}

// RunMaintenance runs rescoring, revisit expiry and no-reply parking in
// that order. A failing step is logged and the remaining steps still run.
func (m *Manager) RunMaintenance(ctx context.Context) *MaintenanceResult {
	log.Println("Account maintenance starting...")
	r := &MaintenanceResult{}

	steps := []struct {
		name string
		run  func(context.Context) (int, error)
		dest *int
	}{
		{"recalculate confidence", m.BatchRecalculateConfidence, &r.Recalculated},
		{"revisit expiry", m.EnforceRevisitExpiry, &r.Reactivated},
		{"no-reply revisit", m.EnforceNoReplyRevisit, &r.Parked},
	}
	for _, step := range steps {
		n, err := runStep(ctx, step.run)
		*step.dest = n
		if err != nil {
			log.Printf("Maintenance step %q failed: %v", step.name, err)
			r.Errors++
		}
	}

	log.Printf("Account maintenance complete: %d recalculated, %d reactivated, %d parked",
		r.Recalculated, r.Reactivated, r.Parked)
	return r
}

// runStep isolates a maintenance step so a panic in one job does not take
// down the others.
func runStep(ctx context.Context, fn func(context.Context) (int, error)) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
