// Package discovery finds and verifies a contact's email address: website
// scraping, search fallback, name patterns, MX and catch-all checks and
// SMTP probing, ending in one terminal status per contact.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

// Terminal email statuses written by discovery.
const (
	StatusVerified    = "verified"
	StatusLikely      = "likely"
	StatusInvalid     = "invalid"
	StatusNeedsManual = "needs_manual"
	StatusExhausted   = "exhausted"
)

// Where a resolved address came from.
const (
	SourceExisting = "existing"
	SourceFinder   = "finder"
	SourceScrape   = "scrape"
	SourceSearch   = "search"
	SourcePattern  = "pattern"
)

var ErrContactNotFound = errors.New("contact not found")

// Outcome is the terminal classification of one discovery run.
type Outcome struct {
	Email  string
	Status string
	Source string
}

// BatchResult pairs a contact with its discovery outcome or failure.
type BatchResult struct {
	ContactID int64
	Outcome   *Outcome
	Err       error
}

// Deps are the engine's network collaborators. Nil fields get the
// production implementation.
type Deps struct {
	Resolver   Resolver
	Prober     Prober
	HTTPClient *http.Client
	Finder     Finder
	Limiter    Limiter
	Clock      clockwork.Clock
}

// Engine runs discovery against the contact store.
type Engine struct {
	db            *database.DB
	cfg           config.Discovery
	resolver      Resolver
	prober        Prober
	scraper       *Scraper
	searcher      *Searcher
	finder        Finder
	mxCache       *ttlCache[mxRecord]
	catchAllCache *ttlCache[bool]
}

// New creates a discovery engine. When deps.Limiter is set every probe,
// including catch-all probes, is charged against it.
func New(db *database.DB, cfg config.Discovery, deps Deps) *Engine {
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = 5 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 8 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	prober := deps.Prober
	if prober == nil {
		prober = NewSMTPProber(cfg)
	}
	if deps.Limiter != nil {
		prober = NewLimitedProber(prober, deps.Limiter)
	}

	finder := deps.Finder
	if finder == nil && cfg.Finder.Enabled {
		if h := NewHunterClient(cfg.Finder, client); h.IsConfigured() {
			finder = h
		} else {
			log.Printf("Person finder enabled but %s is not set, skipping", cfg.Finder.APIKeyEnv)
		}
	}

	var searcher *Searcher
	if cfg.Search.Enabled {
		searcher = NewSearcher(client, cfg.Search.URL, cfg.UserAgent, cfg.Search.Results)
	}

	return &Engine{
		db:            db,
		cfg:           cfg,
		resolver:      resolver,
		prober:        prober,
		scraper:       NewScraper(client, cfg.UserAgent),
		searcher:      searcher,
		finder:        finder,
		mxCache:       newTTLCache[mxRecord](cfg.CacheSize, cfg.CacheTTL, clock),
		catchAllCache: newTTLCache[bool](cfg.CacheSize, cfg.CacheTTL, clock),
	}
}

// candidate is one address to probe, tagged with where it came from.
type candidate struct {
	email  string
	source string
}

func (c candidate) trusted() bool {
	return c.source == SourceScrape || c.source == SourceSearch
}

// Discover resolves a contact's address. Contacts already verified or
// likely are returned as is.
func (e *Engine) Discover(ctx context.Context, id int64) (*Outcome, error) {
	c, err := e.db.GetContact(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrContactNotFound
	}

	domain := e.resolveDomain(c)

	if c.DiscoveredEmail != "" && (c.EmailStatus == StatusVerified || c.EmailStatus == StatusLikely) {
		return &Outcome{Email: c.DiscoveredEmail, Status: c.EmailStatus, Source: SourceExisting}, nil
	}

	if out, err := e.tryFinder(ctx, c, domain); err != nil || out != nil {
		return out, err
	}

	if domain == "" {
		e.logStep(id, "mx", "skip", "no domain")
		return e.flag(id, StatusNeedsManual, "no domain to search")
	}

	mx, err := e.lookupMX(ctx, domain)
	if err != nil {
		e.logStep(id, "mx", "error", err.Error())
		return e.flag(id, StatusNeedsManual, "mx lookup failed")
	}
	e.logStep(id, "mx", passFail(mx.ok), mx.host)
	if !mx.ok {
		return e.flag(id, StatusInvalid, "domain has no mail exchanger")
	}

	candidates := e.gather(ctx, c, domain, false)
	if len(candidates) == 0 {
		return e.flag(id, StatusNeedsManual, "no emails found via scrape, search or name patterns")
	}

	catchAll := e.catchAllProbe(ctx, domain, mx.host)
	e.logStep(id, "catchall", fmt.Sprint(catchAll), domain)

	best, inconclusive := e.probe(ctx, id, "smtp", candidates, mx.host, catchAll)
	if best == nil {
		// Only corroborated addresses may be used without a definite probe.
		for _, cand := range inconclusive {
			if cand.trusted() {
				best = &Outcome{Email: cand.email, Status: StatusLikely, Source: cand.source}
				e.logStep(id, "scraped_fallback", StatusLikely, cand.email)
				break
			}
		}
	}
	if best == nil {
		return e.flag(id, StatusNeedsManual, "SMTP probing inconclusive, no scraped emails to fall back on")
	}

	if err := e.db.SaveDiscoveredEmail(id, best.Email, best.Status, false); err != nil {
		return nil, fmt.Errorf("saving discovered email for %d: %w", id, err)
	}
	log.Printf("Discovered %s for #%d (%s, %s)", best.Email, id, best.Status, best.Source)
	return best, nil
}

// Rediscover is the deep pass after a bounce. Bounced addresses are never
// candidates; total failure ends in exhausted. Success puts the contact
// back in the send queue.
func (e *Engine) Rediscover(ctx context.Context, id int64) (*Outcome, error) {
	c, err := e.db.GetContact(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrContactNotFound
	}
	log.Printf("Rediscovery for #%d (%s), excluding bounced: %s", id, c.CompanyName, c.BouncedEmails)

	domain := e.resolveDomain(c)
	if domain == "" {
		e.logStep(id, "rediscover", "skip", "no domain")
		return e.flag(id, StatusExhausted, "no domain")
	}

	mx, err := e.lookupMX(ctx, domain)
	if err != nil {
		e.logStep(id, "rediscover_mx", "error", err.Error())
		return e.flag(id, StatusNeedsManual, "mx lookup failed")
	}
	if !mx.ok {
		e.logStep(id, "rediscover_mx", "fail", "no MX")
		return e.flag(id, StatusExhausted, "domain has no mail exchanger")
	}

	var candidates []candidate
	for _, cand := range e.gather(ctx, c, domain, true) {
		if !c.HasBounced(cand.email) {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		return e.flag(id, StatusExhausted, "no new candidates")
	}

	catchAll := e.catchAllProbe(ctx, domain, mx.host)
	best, inconclusive := e.probe(ctx, id, "rediscover_smtp", candidates, mx.host, catchAll)
	if best == nil && len(inconclusive) > 0 {
		ranked := append([]candidate(nil), inconclusive...)
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].trusted() != ranked[j].trusted() {
				return ranked[i].trusted()
			}
			return PatternScore(ranked[i].email) > PatternScore(ranked[j].email)
		})
		best = &Outcome{Email: ranked[0].email, Status: StatusLikely, Source: ranked[0].source}
		e.logStep(id, "rediscover_score", "fallback", best.Email)
	}
	if best == nil {
		return e.flag(id, StatusExhausted, "every candidate was rejected")
	}

	if err := e.db.SaveDiscoveredEmail(id, best.Email, best.Status, true); err != nil {
		return nil, fmt.Errorf("saving rediscovered email for %d: %w", id, err)
	}
	e.logStep(id, "rediscover", "found", best.Email)
	log.Printf("Rediscovered %s for #%d (%s)", best.Email, id, best.Status)
	return best, nil
}

// RecoverBounce records email (or the current address when empty) as
// bounced and runs rediscovery.
func (e *Engine) RecoverBounce(ctx context.Context, id int64, email string) (*Outcome, error) {
	if email == "" {
		c, err := e.db.GetContact(id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, ErrContactNotFound
		}
		email = c.DiscoveredEmail
	}
	if err := e.db.RecordBounce(id, email); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("recording bounce for %d: %w", id, err)
	}
	e.logStep(id, "bounce", "recorded", email)
	return e.Rediscover(ctx, id)
}

// DiscoverBatch runs discovery over the highest-priority pending contacts
// with bounded parallelism. Results keep selection order; a failing
// contact is reported in its result and never stops the batch.
func (e *Engine) DiscoverBatch(ctx context.Context, limit int) ([]BatchResult, error) {
	if limit <= 0 {
		limit = e.cfg.BatchSize
	}
	ids, err := e.db.ListPendingDiscovery(limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending discovery: %w", err)
	}

	results := make([]BatchResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		results[i].ContactID = id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			out, err := e.Discover(gctx, id)
			results[i].Outcome = out
			results[i].Err = err
			if err != nil {
				log.Printf("Error discovering contact #%d: %v", id, err)
			}
			return nil
		})
	}
	g.Wait()

	found := 0
	for _, r := range results {
		if r.Outcome != nil && r.Outcome.Email != "" {
			found++
		}
	}
	log.Printf("Discovery batch: %d/%d with an email", found, len(results))
	return results, nil
}

// resolveDomain returns the stored domain or derives and stores one from
// the website.
func (e *Engine) resolveDomain(c *database.Contact) string {
	if c.Domain != "" {
		return strings.ToLower(c.Domain)
	}
	domain := ExtractDomain(c.Website)
	if domain != "" {
		if err := e.db.SetDomain(c.ID, domain); err != nil {
			log.Printf("Error saving domain for #%d: %v", c.ID, err)
		}
	}
	return domain
}

// tryFinder runs the paid lookup for eligible contacts. A nil outcome means
// discovery should continue.
func (e *Engine) tryFinder(ctx context.Context, c *database.Contact, domain string) (*Outcome, error) {
	if e.finder == nil || domain == "" || !e.finderEligible(c) {
		return nil, nil
	}
	first, last := ParseName(c.ContactName)
	if first == "" || last == "" {
		return nil, nil
	}

	match, err := e.finder.Find(ctx, domain, first, last)
	if err != nil {
		e.logStep(c.ID, "finder", "error", err.Error())
		return nil, nil
	}
	if match == nil {
		e.logStep(c.ID, "finder", "miss", first+" "+last)
		return nil, nil
	}

	var status string
	switch {
	case match.Score >= e.cfg.Finder.VerifiedScore:
		status = StatusVerified
	case match.Score >= e.cfg.Finder.LikelyScore:
		status = StatusLikely
	default:
		e.logStep(c.ID, "finder", "low_score", fmt.Sprintf("%s score=%d", match.Email, match.Score))
		return nil, nil
	}

	e.logStep(c.ID, "finder", status, fmt.Sprintf("%s score=%d", match.Email, match.Score))
	if err := e.db.SaveDiscoveredEmail(c.ID, strings.ToLower(match.Email), status, false); err != nil {
		return nil, fmt.Errorf("saving finder email for %d: %w", c.ID, err)
	}
	if match.LinkedIn != "" {
		if err := e.db.SetLinkedInURL(c.ID, match.LinkedIn); err != nil {
			log.Printf("Error saving LinkedIn URL for #%d: %v", c.ID, err)
		}
	}
	log.Printf("Person finder found %s for #%d (%s)", match.Email, c.ID, c.CompanyName)
	return &Outcome{Email: strings.ToLower(match.Email), Status: status, Source: SourceFinder}, nil
}

func (e *Engine) finderEligible(c *database.Contact) bool {
	if c.Tier == "A" {
		return true
	}
	for _, s := range e.cfg.Finder.SpecialSources {
		if c.Source != "" && c.Source == s {
			return true
		}
	}
	return false
}

// gather collects candidates in trust order: scraped, then search (only if
// scraping found nothing), then name patterns not already present.
func (e *Engine) gather(ctx context.Context, c *database.Contact, domain string, deep bool) []candidate {
	prefix := ""
	if deep {
		prefix = "rediscover_"
	}

	website := c.Website
	if website == "" {
		website = domain
	}
	scraped := e.scraper.Scrape(ctx, website, deep, c.City)
	e.logStep(c.ID, prefix+"scrape", fmt.Sprintf("found:%d", len(scraped)), joinFirst(scraped, 5))

	var out []candidate
	seen := make(map[string]bool)
	add := func(email, source string) {
		if !seen[email] {
			seen[email] = true
			out = append(out, candidate{email: email, source: source})
		}
	}
	for _, email := range scraped {
		add(email, SourceScrape)
	}

	if len(scraped) == 0 && e.searcher != nil {
		if email := e.searcher.Search(ctx, c.CompanyName, domain); email != "" {
			add(email, SourceSearch)
			e.logStep(c.ID, prefix+"search", "found", email)
		}
	}

	first, last := ParseName(c.ContactName)
	patterns := GenerateVariations(first, last, domain, deep)
	e.logStep(c.ID, prefix+"patterns", fmt.Sprintf("generated:%d", len(patterns)), joinFirst(patterns, 5))
	for _, email := range patterns {
		add(email, SourcePattern)
	}
	return out
}

// probe walks candidates in order and stops at the first acceptance. It
// returns that outcome, or nil plus every inconclusive candidate in order.
func (e *Engine) probe(ctx context.Context, id int64, step string, candidates []candidate, host string, catchAll bool) (*Outcome, []candidate) {
	var inconclusive []candidate
	for _, cand := range candidates {
		if !ValidateSyntax(cand.email) {
			continue
		}
		switch e.prober.Probe(ctx, host, cand.email) {
		case Accepted:
			if catchAll {
				e.logStep(id, step, "likely-catchall", cand.email)
				return &Outcome{Email: cand.email, Status: StatusLikely, Source: cand.source}, nil
			}
			e.logStep(id, step, StatusVerified, cand.email)
			return &Outcome{Email: cand.email, Status: StatusVerified, Source: cand.source}, nil
		case Rejected:
			e.logStep(id, step, "rejected", cand.email)
		default:
			e.logStep(id, step, "inconclusive", cand.email)
			inconclusive = append(inconclusive, cand)
		}
	}
	return nil, inconclusive
}

// flag writes a terminal status with no address and returns it.
func (e *Engine) flag(id int64, status, reason string) (*Outcome, error) {
	if err := e.db.SetEmailStatus(id, status); err != nil {
		return nil, fmt.Errorf("setting email status for %d: %w", id, err)
	}
	e.logStep(id, status, "flagged", reason)
	log.Printf("Contact #%d marked %s: %s", id, status, reason)
	return &Outcome{Status: status}, nil
}

func (e *Engine) logStep(id int64, step, result, detail string) {
	if err := e.db.LogDiscovery(id, step, result, detail); err != nil {
		log.Printf("Error logging discovery step %s for #%d: %v", step, id, err)
	}
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func joinFirst(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, " | ")
}
