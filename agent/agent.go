// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package agent provides the transport modules hopx sends hops
// through.
//
// An Agent is a connection manager: an http.RoundTripper that keeps
// idle connections around for reuse. A Module builds agents for one
// scheme and protocol version, and a Provider picks the module for a
// hop. The default provider uses the net/http Transport for HTTP/1.1
// and golang.org/x/net/http2 for HTTP/2.
package agent

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"time"
)

// A Version names the HTTP protocol version a module speaks.
type Version string

const (
	// HTTP1 selects HTTP/1.1. It is the default version.
	HTTP1 Version = "http1"
	// HTTP2 selects HTTP/2 over TLS with prior knowledge.
	HTTP2 Version = "http2"
	// Auto selects HTTP/2 when the server negotiates it with ALPN, and
	// HTTP/1.1 otherwise.
	Auto Version = "auto"
)

// An Agent sends hops and manages the connections they travel on.
type Agent interface {
	http.RoundTripper
	// CloseIdleConnections closes any connections that are sitting
	// idle. Connections in use are not interrupted.
	CloseIdleConnections()
}

// A NoReuser is an Agent that can send a request on a connection that
// is neither taken from nor returned to its idle pool.
type NoReuser interface {
	RoundTripNoReuse(r *http.Request) (*http.Response, error)
}

// A Module builds agents for one scheme and protocol version.
type Module interface {
	// Name identifies the module in logs and errors.
	Name() string
	// NewAgent builds a new agent bound to the scheme in the config.
	NewAgent(c Config) (Agent, error)
	// DefaultAgent returns the module's process-wide agent for a
	// scheme, or nil if the module has none.
	DefaultAgent(scheme string) Agent
}

// A Provider picks the module that sends a hop.
type Provider interface {
	// Resolve returns the module for a scheme and protocol version. The
	// boolean is false if no module is available.
	Resolve(scheme string, v Version) (Module, bool)
}

// Options configures agents built for a request. The zero value means
// the module defaults, and makes the request eligible for the module's
// default agent.
type Options struct {
	// Kind is an opaque discriminator that separates otherwise equal
	// pool keys, so callers can keep several pools of agents apart.
	Kind string
	// Module, if not nil, is used instead of the provider's choice.
	Module Module
	// IdleTimeout evicts a pooled agent that has not been used for
	// longer than this. Zero means pooled agents never expire.
	IdleTimeout time.Duration
	// KeepAlive is the TCP keep-alive period. Zero means the module
	// default, negative disables TCP keep-alives.
	KeepAlive time.Duration
	// DisableKeepAlives, if true, uses each connection for a single
	// request.
	DisableKeepAlives bool
	// MaxConnsPerHost limits the connections per host, including
	// connections in use. Zero means no limit.
	MaxConnsPerHost int
	// MaxIdleConnsPerHost limits the idle connections kept per host.
	MaxIdleConnsPerHost int
	// IdleConnTimeout is how long an idle connection stays open.
	IdleConnTimeout time.Duration
	// TLSHandshakeTimeout limits the TLS handshake.
	TLSHandshakeTimeout time.Duration
}

// IsZero reports whether o holds no options at all.
func (o *Options) IsZero() bool {
	return o.Kind == "" &&
		o.Module == nil &&
		o.IdleTimeout == 0 &&
		o.KeepAlive == 0 &&
		!o.DisableKeepAlives &&
		o.MaxConnsPerHost == 0 &&
		o.MaxIdleConnsPerHost == 0 &&
		o.IdleConnTimeout == 0 &&
		o.TLSHandshakeTimeout == 0
}

// Config is what a module needs to build an agent.
type Config struct {
	// Scheme is the scheme the agent is bound to, "http" or "https".
	Scheme string
	// Options are the caller's agent options.
	Options Options
	// TLS is the client TLS configuration, or nil for the defaults.
	TLS *tls.Config
}

// A Route carries the per-hop routing decisions the pool key does not
// capture: the proxy, whether to tunnel through it, and a Unix domain
// socket to dial instead of the URL host.
type Route struct {
	Proxy *url.URL
	// Tunnel sends the hop through a CONNECT tunnel opened on Proxy.
	// When false, Proxy forwards the request. The standard agents
	// always tunnel https.
	Tunnel     bool
	SocketPath string
}

type routeKey struct{}

// WithRoute returns a copy of ctx carrying r. Agents built by this
// package read the route of each request from its context.
func WithRoute(ctx context.Context, r Route) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

// RouteFrom returns the route carried by ctx.
func RouteFrom(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeKey{}).(Route)
	return r, ok
}
