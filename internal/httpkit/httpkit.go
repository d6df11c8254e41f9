// Package httpkit builds the HTTP clients template-agent uses for the MCP
// tool server and the model provider SDKs. Every client gets bounded
// dial, TLS and header timeouts, a bounded idle pool and a User-Agent.
//
// Clients built here never retry. A failed tool-server connection is
// reported once and the caller decides what to do with it.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tuhinsharma121/template-agent/internal/buildinfo"
)

// DefaultTimeout is the whole-request timeout unless WithTimeout says otherwise.
const DefaultTimeout = 30 * time.Second

// drainLimit caps how much of an unread body is discarded to keep the
// connection reusable.
const drainLimit = 1 << 20

// Limits bounds the transport underneath a client.
type Limits struct {
	Dial                time.Duration
	KeepAlive           time.Duration
	TLSHandshake        time.Duration
	ResponseHeader      time.Duration // time to first response byte after the request is written
	IdleConn            time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
}

// DefaultLimits suit short JSON exchanges such as MCP requests.
func DefaultLimits() Limits {
	return Limits{
		Dial:                10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshake:        10 * time.Second,
		ResponseHeader:      15 * time.Second,
		IdleConn:            90 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
	}
}

// NewTransport creates an http.Transport bounded by l.
func NewTransport(l Limits) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   l.Dial,
			KeepAlive: l.KeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   l.TLSHandshake,
		ResponseHeaderTimeout: l.ResponseHeader,
		IdleConnTimeout:       l.IdleConn,
		MaxIdleConns:          l.MaxIdleConns,
		MaxIdleConnsPerHost:   l.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// Option configures a client built by NewClient.
type Option func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	limits    Limits
}

// WithTimeout sets the whole-request timeout. Zero disables it, which
// model calls use so that ctx deadlines alone bound them.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithResponseHeaderTimeout overrides how long to wait for the first
// response byte.
func WithResponseHeaderTimeout(d time.Duration) Option {
	return func(o *options) { o.limits.ResponseHeader = d }
}

// WithLimits replaces the transport limits wholesale.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithUserAgent overrides the default User-Agent. An empty value leaves
// the header to the caller (the provider SDKs set their own).
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// NewClient builds an *http.Client on a fresh bounded transport.
func NewClient(opts ...Option) *http.Client {
	o := options{
		timeout:   DefaultTimeout,
		userAgent: buildinfo.UserAgent(),
		limits:    DefaultLimits(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = NewTransport(o.limits)
	if o.userAgent != "" {
		rt = &userAgentTransport{base: rt, ua: o.userAgent}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

// userAgentTransport sets the User-Agent on requests that lack one.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// Discard drains a bounded amount of rc and closes it so the connection
// returns to the pool. A nil rc is ignored.
func Discard(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	_ = rc.Close()
}

// ErrorBody reads at most limit bytes of an error response for use in an
// error message, then discards the rest.
func ErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	Discard(rc)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
