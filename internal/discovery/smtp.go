package discovery

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/TobiSchelling/outreach/internal/config"
)

// ProbeResult is the verdict of one RCPT TO probe.
type ProbeResult int

const (
	// Inconclusive covers 4xx replies, timeouts, connection failures and
	// probes skipped by the rate limiter.
	Inconclusive ProbeResult = iota
	Accepted
	Rejected
)

func (r ProbeResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "inconclusive"
	}
}

// Prober checks whether a mail server accepts a recipient.
type Prober interface {
	Probe(ctx context.Context, mxHost, email string) ProbeResult
}

// Limiter gates probes against the shared probe budget.
type Limiter interface {
	Acquire(ctx context.Context, domain string) bool
}

// SMTPProber speaks just enough SMTP to issue RCPT TO and hang up.
type SMTPProber struct {
	Helo     string
	MailFrom string
	Timeout  time.Duration
	Port     string
	dialer   net.Dialer
}

// NewSMTPProber creates a prober on port 25 from the discovery config.
func NewSMTPProber(cfg config.Discovery) *SMTPProber {
	timeout := cfg.SMTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMTPProber{
		Helo:     cfg.HeloDomain,
		MailFrom: cfg.MailFrom,
		Timeout:  timeout,
		Port:     "25",
	}
}

// Probe runs EHLO, MAIL FROM and RCPT TO against mxHost. Only a 5xx answer
// to RCPT TO counts as a rejection.
func (p *SMTPProber) Probe(ctx context.Context, mxHost, email string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, p.Port))
	if err != nil {
		return Inconclusive
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		conn.Close()
		return Inconclusive
	}
	defer c.Close()

	if err := c.Hello(p.Helo); err != nil {
		return Inconclusive
	}
	if err := c.Mail(p.MailFrom); err != nil {
		return Inconclusive
	}
	result := classifyRcpt(c.Rcpt(email))
	c.Quit()
	return result
}

func classifyRcpt(err error) ProbeResult {
	if err == nil {
		return Accepted
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600 {
		return Rejected
	}
	return Inconclusive
}

// LimitedProber charges every probe against a Limiter and reports
// Inconclusive instead of probing once the budget is spent.
type LimitedProber struct {
	inner   Prober
	limiter Limiter
}

// NewLimitedProber wraps inner with limiter.
func NewLimitedProber(inner Prober, limiter Limiter) *LimitedProber {
	return &LimitedProber{inner: inner, limiter: limiter}
}

// Probe implements Prober.
func (l *LimitedProber) Probe(ctx context.Context, mxHost, email string) ProbeResult {
	if !l.limiter.Acquire(ctx, domainOf(email)) {
		return Inconclusive
	}
	return l.inner.Probe(ctx, mxHost, email)
}
