// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gogama/hopx/failure"

	"golang.org/x/net/http2"
)

var (
	// Standard is the net/http HTTP/1.1 module.
	Standard Module = &stdModule{name: "net/http", protocols: http1Only()}
	// Negotiated is the net/http module that upgrades to HTTP/2 when
	// the server offers it during the TLS handshake.
	Negotiated Module = &stdModule{name: "net/http+h2", protocols: http1And2()}
	// H2 is the golang.org/x/net/http2 module. It speaks HTTP/2 only
	// and does not support proxies.
	H2 Module = &h2Module{}
)

// DefaultProvider resolves http hops to Standard for every version,
// and https hops to Standard, H2 or Negotiated for HTTP1, HTTP2 and
// Auto respectively.
var DefaultProvider Provider = defaultProvider{}

type defaultProvider struct{}

func (defaultProvider) Resolve(scheme string, v Version) (Module, bool) {
	if v == "" {
		v = HTTP1
	}
	switch scheme {
	case "http":
		switch v {
		case HTTP1, HTTP2, Auto:
			return Standard, true
		}
	case "https":
		switch v {
		case HTTP1:
			return Standard, true
		case HTTP2:
			return H2, true
		case Auto:
			return Negotiated, true
		}
	}
	return nil, false
}

// Modules is a Provider backed by a table of modules keyed by scheme
// and then version. A scheme with no module for the requested version
// falls back to its HTTP1 module.
type Modules map[string]map[Version]Module

// Resolve looks up the module for scheme and v.
func (m Modules) Resolve(scheme string, v Version) (Module, bool) {
	byVersion, ok := m[scheme]
	if !ok {
		return nil, false
	}
	if mod, ok := byVersion[v]; ok && mod != nil {
		return mod, true
	}
	mod, ok := byVersion[HTTP1]
	return mod, ok && mod != nil
}

type stdModule struct {
	name      string
	protocols func() *http.Protocols

	mu       sync.Mutex
	defaults map[string]Agent
}

func http1Only() func() *http.Protocols {
	return func() *http.Protocols {
		p := new(http.Protocols)
		p.SetHTTP1(true)
		return p
	}
}

func http1And2() func() *http.Protocols {
	return func() *http.Protocols {
		p := new(http.Protocols)
		p.SetHTTP1(true)
		p.SetHTTP2(true)
		return p
	}
}

func (m *stdModule) Name() string {
	return m.name
}

func (m *stdModule) NewAgent(c Config) (Agent, error) {
	o := c.Options
	d := dialer(o)
	t := &http.Transport{
		Proxy:                 proxyFromRoute,
		DialContext:           dialFromRoute(d),
		TLSClientConfig:       c.TLS,
		Protocols:             m.protocols(),
		DisableCompression:    true,
		DisableKeepAlives:     o.DisableKeepAlives,
		MaxIdleConns:          100,
		MaxConnsPerHost:       o.MaxConnsPerHost,
		MaxIdleConnsPerHost:   o.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if o.IdleConnTimeout > 0 {
		t.IdleConnTimeout = o.IdleConnTimeout
	}
	if o.TLSHandshakeTimeout > 0 {
		t.TLSHandshakeTimeout = o.TLSHandshakeTimeout
	}
	return &stdAgent{scheme: c.Scheme, t: t, d: d}, nil
}

func (m *stdModule) DefaultAgent(scheme string) Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.defaults[scheme]; ok {
		return a
	}
	a, _ := m.NewAgent(Config{Scheme: scheme})
	if m.defaults == nil {
		m.defaults = make(map[string]Agent)
	}
	m.defaults[scheme] = a
	return a
}

type stdAgent struct {
	scheme string
	t      *http.Transport
	d      *net.Dialer

	once  sync.Once
	fresh *http.Transport

	mu      sync.Mutex
	tunnels map[tunnelKey]*http.Transport
}

func (a *stdAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := bound(a.scheme, r); err != nil {
		return nil, err
	}
	if route, ok := RouteFrom(r.Context()); ok && tunneled(route, r) {
		return a.tunnel(route.Proxy, false).RoundTrip(r)
	}
	return a.t.RoundTrip(r)
}

// RoundTripNoReuse sends r on a transport with keep-alives disabled,
// so it always dials a new connection and closes it afterwards.
func (a *stdAgent) RoundTripNoReuse(r *http.Request) (*http.Response, error) {
	if err := bound(a.scheme, r); err != nil {
		return nil, err
	}
	if route, ok := RouteFrom(r.Context()); ok && tunneled(route, r) {
		return a.tunnel(route.Proxy, true).RoundTrip(r)
	}
	a.once.Do(func() {
		a.fresh = a.t.Clone()
		a.fresh.DisableKeepAlives = true
	})
	return a.fresh.RoundTrip(r)
}

func (a *stdAgent) CloseIdleConnections() {
	a.t.CloseIdleConnections()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.tunnels {
		t.CloseIdleConnections()
	}
}

type h2Module struct {
	mu       sync.Mutex
	defaults map[string]Agent
}

func (m *h2Module) Name() string {
	return "x/net/http2"
}

func (m *h2Module) NewAgent(c Config) (Agent, error) {
	d := dialer(c.Options)
	t := &http2.Transport{
		TLSClientConfig:    c.TLS,
		DisableCompression: true,
		IdleConnTimeout:    c.Options.IdleConnTimeout,
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			if r, ok := RouteFrom(ctx); ok && r.SocketPath != "" {
				network, addr = "unix", r.SocketPath
			}
			td := &tls.Dialer{NetDialer: d, Config: cfg}
			return td.DialContext(ctx, network, addr)
		},
	}
	return &h2Agent{scheme: c.Scheme, t: t}, nil
}

func (m *h2Module) DefaultAgent(scheme string) Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.defaults[scheme]; ok {
		return a
	}
	a, _ := m.NewAgent(Config{Scheme: scheme})
	if m.defaults == nil {
		m.defaults = make(map[string]Agent)
	}
	m.defaults[scheme] = a
	return a
}

type h2Agent struct {
	scheme string
	t      *http2.Transport
}

func (a *h2Agent) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := bound(a.scheme, r); err != nil {
		return nil, err
	}
	if route, ok := RouteFrom(r.Context()); ok && route.Proxy != nil {
		return nil, &failure.TransportError{Err: errors.New("x/net/http2 agent cannot send through a proxy")}
	}
	return a.t.RoundTrip(r)
}

func (a *h2Agent) CloseIdleConnections() {
	a.t.CloseIdleConnections()
}

// bound rejects a request whose scheme differs from the scheme the
// agent was built for.
func bound(scheme string, r *http.Request) error {
	if scheme == "" || r.URL.Scheme == scheme {
		return nil
	}
	return &failure.TransportError{
		Err: fmt.Errorf("protocol %q not supported, expected %q", r.URL.Scheme+":", scheme+":"),
	}
}

func dialer(o Options) *net.Dialer {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if o.KeepAlive != 0 {
		d.KeepAlive = o.KeepAlive
	}
	return d
}

// proxyFromRoute gives net/http the proxy for forwarded http requests
// and for https requests, which net/http tunnels itself.
func proxyFromRoute(r *http.Request) (*url.URL, error) {
	route, _ := RouteFrom(r.Context())
	return route.Proxy, nil
}

func dialFromRoute(d *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if r, ok := RouteFrom(ctx); ok && r.SocketPath != "" {
			return d.DialContext(ctx, "unix", r.SocketPath)
		}
		return d.DialContext(ctx, network, addr)
	}
}
