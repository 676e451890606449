package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Resolver is the DNS surface discovery needs. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

type mxRecord struct {
	ok   bool
	host string
}

// ValidateMX reports whether domain can receive mail and returns its
// most-preferred exchanger. Lookup failures report false.
func (e *Engine) ValidateMX(ctx context.Context, domain string) (bool, string) {
	rec, err := e.lookupMX(ctx, domain)
	if err != nil {
		return false, ""
	}
	return rec.ok, rec.host
}

// lookupMX returns a non-nil error only for transient failures (timeouts,
// SERVFAIL). Those are not cached; a definite "no such domain" or empty
// answer is.
func (e *Engine) lookupMX(ctx context.Context, domain string) (mxRecord, error) {
	domain = strings.ToLower(domain)
	if rec, ok := e.mxCache.Get(domain); ok {
		return rec, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.DNSTimeout)
	defer cancel()
	records, err := e.resolver.LookupMX(lookupCtx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			e.mxCache.Put(domain, mxRecord{})
			return mxRecord{}, nil
		}
		return mxRecord{}, err
	}

	rec := bestMX(records)
	e.mxCache.Put(domain, rec)
	return rec, nil
}

func bestMX(records []*net.MX) mxRecord {
	live := make([]*net.MX, 0, len(records))
	for _, r := range records {
		// A lone "." exchanger is the null MX: the domain takes no mail.
		if r != nil && strings.TrimSuffix(r.Host, ".") != "" {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return mxRecord{}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].Pref < live[j].Pref })
	return mxRecord{ok: true, host: strings.TrimSuffix(live[0].Host, ".")}
}

// IsCatchAll reports whether the domain's mail server accepts a recipient
// that cannot exist. Only definite probe answers are cached.
func (e *Engine) IsCatchAll(ctx context.Context, domain string) bool {
	domain = strings.ToLower(domain)
	if v, ok := e.catchAllCache.Get(domain); ok {
		return v
	}

	ok, host := e.ValidateMX(ctx, domain)
	if !ok {
		return false
	}
	return e.catchAllProbe(ctx, domain, host)
}

func (e *Engine) catchAllProbe(ctx context.Context, domain, host string) bool {
	if v, ok := e.catchAllCache.Get(domain); ok {
		return v
	}
	local := "zz" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	switch e.prober.Probe(ctx, host, local+"@"+domain) {
	case Accepted:
		e.catchAllCache.Put(domain, true)
		return true
	case Rejected:
		e.catchAllCache.Put(domain, false)
	}
	return false
}
