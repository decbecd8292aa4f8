// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// A CookieJar stores cookies set by responses and supplies the
// cookies to send with a request. The cookie package adapts a
// net/http CookieJar to this interface.
type CookieJar interface {
	// CookieString returns the Cookie header value for u, or the empty
	// string if there are no cookies.
	CookieString(ctx context.Context, u *url.URL) (string, error)
	// SetCookie stores one raw Set-Cookie header value received from u.
	SetCookie(ctx context.Context, raw string, u *url.URL) error
}

// An Authenticator authorizes requests. The auth package has basic,
// bearer and digest implementations.
type Authenticator interface {
	// Authorize is called while the first hop is prepared. It may set
	// headers on s.
	Authorize(s *State) error
	// Challenge is called when a hop gets a 401 response. It returns
	// the Authorization header value to re-send the request with, or
	// false if the challenge cannot be answered.
	Challenge(resp *http.Response, s *State) (string, bool)
}

// A Signer adds a signature to a hop, typically by setting headers.
type Signer interface {
	Sign(s *State) error
}

// The SignerFunc type is an adapter to allow the use of ordinary
// functions as signers.
type SignerFunc func(s *State) error

// Sign calls f(s).
func (f SignerFunc) Sign(s *State) error {
	return f(s)
}

// A ProxyResolver picks the proxy for a target URL. It returns nil if
// the target should be reached directly.
type ProxyResolver interface {
	ResolveProxy(u *url.URL) (*url.URL, error)
}

// The ProxyFunc type is an adapter to allow the use of ordinary
// functions as proxy resolvers.
type ProxyFunc func(u *url.URL) (*url.URL, error)

// ResolveProxy calls f(u).
func (f ProxyFunc) ResolveProxy(u *url.URL) (*url.URL, error) {
	return f(u)
}

// EnvProxy returns a resolver that reads HTTP_PROXY, HTTPS_PROXY and
// NO_PROXY (or their lowercase versions) once, when it is created.
func EnvProxy() ProxyResolver {
	return ProxyFunc(httpproxy.FromEnvironment().ProxyFunc())
}

// A Tunneler decides whether a proxied hop tunnels through the proxy
// with CONNECT. It is consulted only when the plan does not decide.
type Tunneler interface {
	TunnelEnabled(s *State) bool
}

// The TunnelFunc type is an adapter to allow the use of ordinary
// functions as tunnelers.
type TunnelFunc func(s *State) bool

// TunnelEnabled calls f(s).
func (f TunnelFunc) TunnelEnabled(s *State) bool {
	return f(s)
}

// Env holds the client-wide collaborators a State consults while it is
// prepared.
type Env struct {
	Proxy  ProxyResolver
	Tunnel Tunneler
}
