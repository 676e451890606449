package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/TobiSchelling/outreach/internal/account"
	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
	"github.com/TobiSchelling/outreach/internal/discovery"
	"github.com/TobiSchelling/outreach/internal/ratelimit"
	"github.com/TobiSchelling/outreach/internal/signals"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Date  string
	Steps []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Options select what a run does.
type Options struct {
	DaysBack      int // news window for the signal scan
	BatchSize     int // 0 uses discovery.batch_size
	SkipSignals   bool
	SkipDiscovery bool
}

// Pipeline wires the daily jobs together over one store.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	clock    clockwork.Clock
	accounts *account.Manager
	scanner  *signals.Scanner
	engine   *discovery.Engine
	budget   *ratelimit.ProbeBudget
}

// New creates a pipeline. deps are passed to the discovery engine; when
// deps.Limiter is nil the durable probe budget is used.
func New(cfg *config.Config, db *database.DB, deps discovery.Deps) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
		deps.Clock = clock
	}
	budget := ratelimit.New(db, cfg.Discovery, clock)
	if deps.Limiter == nil {
		deps.Limiter = budget
	}
	accounts := account.NewManager(db, cfg.Account, clock)

	return &Pipeline{
		cfg:      cfg,
		db:       db,
		clock:    clock,
		accounts: accounts,
		scanner:  signals.NewScanner(db, cfg.Signals, deps.HTTPClient, accounts, clock),
		engine:   discovery.New(db, cfg.Discovery, deps),
		budget:   budget,
	}
}

// DB returns the contact store.
func (p *Pipeline) DB() *database.DB { return p.db }

// Accounts returns the account manager.
func (p *Pipeline) Accounts() *account.Manager { return p.accounts }

// Discovery returns the discovery engine.
func (p *Pipeline) Discovery() *discovery.Engine { return p.engine }

// Signals returns the news signal scanner.
func (p *Pipeline) Signals() *signals.Scanner { return p.scanner }

// Budget returns the SMTP probe budget.
func (p *Pipeline) Budget() *ratelimit.ProbeBudget { return p.budget }

// Run executes maintenance, the signal scan, a discovery batch and a final
// rescore. Steps are best-effort: a failing step is recorded and the next
// one still runs. Only cancellation stops the run early.
func (p *Pipeline) Run(ctx context.Context, opts Options) *Result {
	r := &Result{Date: database.FormatDate(p.clock.Now())}

	steps := []struct {
		name string
		run  func(context.Context, Options) StepResult
	}{
		{"Maintenance", p.runMaintenance},
		{"Signals", p.runSignals},
		{"Discovery", p.runDiscovery},
		{"Rescore", p.runRescore},
	}
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			r.Steps = append(r.Steps, StepResult{Name: s.name, Err: err})
			break
		}
		log.Printf("Step %d/%d: %s...", i+1, len(steps), s.name)
		step := s.run(ctx, opts)
		step.Name = s.name
		if step.Err != nil {
			log.Printf("Step %s failed: %v", s.name, step.Err)
		}
		r.Steps = append(r.Steps, step)
	}
	return r
}

// DryRun reports what a run would touch without changing anything.
func (p *Pipeline) DryRun(ctx context.Context, opts Options) *Result {
	today := database.FormatDate(p.clock.Now())
	r := &Result{Date: today}

	scorable, err := p.db.ListScorableContactIDs()
	expired, err2 := p.db.ListExpiredRevisits(today)
	noReply, err3 := p.db.ListNoReplyCandidates(p.noReplyTouches())
	r.Steps = append(r.Steps, StepResult{
		Name: "Maintenance",
		Summary: fmt.Sprintf("[dry-run] %d contacts to rescore, %d revisits expired, %d no-reply candidates",
			len(scorable), len(expired), len(noReply)),
		Err: firstErr(err, err2, err3),
	})

	sigSummary := fmt.Sprintf("[dry-run] Would scan %d feeds over the last %d days", len(p.cfg.Signals.Feeds), p.daysBack(opts))
	if opts.SkipSignals {
		sigSummary = "[dry-run] Skipped"
	}
	r.Steps = append(r.Steps, StepResult{Name: "Signals", Summary: sigSummary})

	discStep := StepResult{Name: "Discovery", Summary: "[dry-run] Skipped"}
	if !opts.SkipDiscovery {
		pending, err := p.db.ListPendingDiscovery(p.batchSize(opts))
		usage, uerr := p.budget.Usage(ctx)
		if discStep.Err = firstErr(err, uerr); discStep.Err == nil {
			discStep.Summary = fmt.Sprintf("[dry-run] %d contacts pending discovery, %d/%d probes left today",
				len(pending), usage.Remaining, usage.Cap)
		}
	}
	r.Steps = append(r.Steps, discStep)

	r.Steps = append(r.Steps, StepResult{Name: "Rescore", Summary: "[dry-run] Would rescore after discovery"})
	return r
}

func (p *Pipeline) runMaintenance(ctx context.Context, _ Options) StepResult {
	m := p.accounts.RunMaintenance(ctx)
	pruned, err := p.budget.Prune(ctx)
	if err != nil {
		log.Printf("Error pruning probe counters: %v", err)
	}

	step := StepResult{
		Summary: fmt.Sprintf("%d rescored, %d reactivated, %d parked, %d stale counters pruned",
			m.Recalculated, m.Reactivated, m.Parked, pruned),
	}
	if m.Errors > 0 {
		step.Err = fmt.Errorf("%d maintenance steps failed", m.Errors)
	}
	return step
}

func (p *Pipeline) runSignals(ctx context.Context, opts Options) StepResult {
	if opts.SkipSignals {
		return StepResult{Summary: "Skipped"}
	}
	if len(p.cfg.Signals.Feeds) == 0 {
		return StepResult{Summary: "No feeds configured"}
	}
	res, err := p.scanner.Scan(ctx, p.daysBack(opts))
	if err != nil {
		return StepResult{Err: err}
	}
	return StepResult{
		Summary: fmt.Sprintf("%d entries, %d relevant, %d stored (%d matched to contacts), %d duplicates",
			res.Entries, res.Relevant, res.Stored, res.Matched, res.Duplicates),
	}
}

func (p *Pipeline) runDiscovery(ctx context.Context, opts Options) StepResult {
	if opts.SkipDiscovery {
		return StepResult{Summary: "Skipped"}
	}
	results, err := p.engine.DiscoverBatch(ctx, p.batchSize(opts))
	if err != nil {
		return StepResult{Err: err}
	}
	if len(results) == 0 {
		return StepResult{Summary: "No contacts pending discovery"}
	}

	byStatus := make(map[string]int)
	failed := 0
	for _, br := range results {
		switch {
		case br.Err != nil:
			failed++
		case br.Outcome != nil:
			byStatus[br.Outcome.Status]++
		}
	}
	step := StepResult{
		Summary: fmt.Sprintf("%d contacts: %s", len(results), formatCounts(byStatus)),
	}
	if failed > 0 {
		step.Err = fmt.Errorf("%d of %d contacts failed", failed, len(results))
	}
	return step
}

func (p *Pipeline) runRescore(ctx context.Context, opts Options) StepResult {
	if opts.SkipDiscovery {
		return StepResult{Summary: "Skipped"}
	}
	n, err := p.accounts.BatchRecalculateConfidence(ctx)
	return StepResult{Summary: fmt.Sprintf("%d contacts rescored", n), Err: err}
}

func (p *Pipeline) daysBack(opts Options) int {
	if opts.DaysBack > 0 {
		return opts.DaysBack
	}
	return 7
}

func (p *Pipeline) batchSize(opts Options) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	if p.cfg.Discovery.BatchSize > 0 {
		return p.cfg.Discovery.BatchSize
	}
	return 60
}

func (p *Pipeline) noReplyTouches() int {
	if p.cfg.Account.NoReplyTouches > 0 {
		return p.cfg.Account.NoReplyTouches
	}
	return 3
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d %s", m[k], k)
	}
	return strings.Join(parts, ", ")
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
