package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/outreach/internal/config"
)

// startSMTP runs a minimal SMTP responder. rcpt maps a recipient to the
// reply line for RCPT TO; unknown recipients get 250.
func startSMTP(t *testing.T, rcpt map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, rcpt)
		}
	}()
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	return port
}

func serveSMTP(conn net.Conn, rcpt map[string]string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	fmt.Fprint(conn, "220 mx.test ESMTP\r\n")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			fmt.Fprint(conn, "250 mx.test\r\n")
		case strings.HasPrefix(upper, "MAIL FROM"):
			fmt.Fprint(conn, "250 OK\r\n")
		case strings.HasPrefix(upper, "RCPT TO"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			if reply, ok := rcpt[addr]; ok {
				fmt.Fprint(conn, reply+"\r\n")
			} else {
				fmt.Fprint(conn, "250 Accepted\r\n")
			}
		case strings.HasPrefix(upper, "QUIT"):
			fmt.Fprint(conn, "221 Bye\r\n")
			return
		default:
			fmt.Fprint(conn, "502 Unsupported\r\n")
		}
	}
}

func TestSMTPProberClassifiesReplies(t *testing.T) {
	port := startSMTP(t, map[string]string{
		"nobody@acme.example":   "550 5.1.1 No such user",
		"greylist@acme.example": "451 4.7.1 Try again later",
	})
	p := NewSMTPProber(config.Default().Discovery)
	p.Port = port
	p.Timeout = 2 * time.Second

	ctx := context.Background()
	assert.Equal(t, Accepted, p.Probe(ctx, "127.0.0.1", "jane@acme.example"))
	assert.Equal(t, Rejected, p.Probe(ctx, "127.0.0.1", "nobody@acme.example"))
	assert.Equal(t, Inconclusive, p.Probe(ctx, "127.0.0.1", "greylist@acme.example"))
}

func TestSMTPProberConnectionFailureIsInconclusive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	p := NewSMTPProber(config.Default().Discovery)
	p.Port = port
	p.Timeout = time.Second
	assert.Equal(t, Inconclusive, p.Probe(context.Background(), "127.0.0.1", "jane@acme.example"))
}

func TestSMTPProberSilentServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	p := NewSMTPProber(config.Default().Discovery)
	p.Port = port
	p.Timeout = 200 * time.Millisecond
	assert.Equal(t, Inconclusive, p.Probe(context.Background(), "127.0.0.1", "jane@acme.example"))
}

func TestProbeResultString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "inconclusive", Inconclusive.String())
}

func TestTTLCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTTLCache[int](2, time.Hour, clock)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestTTLCacheExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTTLCache[string](10, time.Minute, clock)
	c.Put("k", "v")

	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}
