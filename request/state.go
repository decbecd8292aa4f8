// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogama/hopx/failure"
	"github.com/gogama/hopx/form"
	"github.com/gogama/hopx/pool"
	"github.com/gogama/hopx/redirect"

	"github.com/google/go-querystring/query"
	"golang.org/x/net/http/httpguts"
)

var (
	template, _ = http.NewRequest("GET", "", nil)

	// absoluteURI matches a URI that starts with a scheme.
	absoluteURI = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// Methods that do not get a Content-Length: 0 header when sent
// without a body.
var bodyless = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"TRACE":   true,
	"DELETE":  true,
	"CONNECT": true,
	"OPTIONS": true,
}

// A State is the per-hop form of a logical request: the method, URL,
// headers and body of the hop about to be sent, plus the routing and
// agent decisions made for it.
//
// The first State of an execution is built from the Plan by NewState.
// Following a redirect never changes a State in place. Redirect returns
// the State of the next hop, which Reinit then prepares.
//
// Signers and authenticators may change Header. Everything else should
// be treated as read-only.
type State struct {
	// Method is the hop's HTTP method.
	Method string
	// URL is the hop's target URL.
	URL *url.URL
	// Header is the hop's request header, including Host and
	// Content-Length when they are managed by the client.
	Header http.Header
	// Path is the request target sent on the wire: the path and query,
	// or the absolute URL when sent to a proxy without tunneling.
	Path string
	// SocketPath is the Unix domain socket to dial, if any.
	SocketPath string
	// Proxy is the proxy the hop goes through, or nil.
	Proxy *url.URL
	// Tunnel is true if the hop tunnels through Proxy with CONNECT.
	Tunnel bool
	// Agent is the agent entry carried from hop to hop. It is nil
	// until the first hop picks one, and reset on every redirect when
	// the plan sets NoPool, or when a redirect changes scheme and
	// AllowInsecure is set.
	Agent *pool.Entry
	// Hop is the zero-based hop number.
	Hop int
	// Redirected is true for every hop after the first.
	Redirected bool
	// OriginalCookie is the caller's Cookie header, which cookies from
	// the jar are appended to on every hop.
	OriginalCookie string
	// OriginalHost is the Host header the last response answered.
	OriginalHost string
	// AuthSent is true once an Authorization header from the plan's
	// authenticator, or from the URI user info, has been sent.
	AuthSent bool
	// ParseJSON is true if the response body is parsed as JSON.
	ParseJSON bool

	body         source
	form         *form.Data
	hostSet      bool
	proxyAuthSet bool
	started      bool
}

// NewState builds the first hop of p. It fails with an
// *failure.InvalidURIError or *failure.ConfigError if the plan cannot be
// sent, or with an error from a signer or authenticator.
func NewState(p *Plan, env Env) (*State, error) {
	u, err := planURL(p)
	if err != nil {
		return nil, err
	}
	s := &State{
		Method:    p.method(),
		URL:       u,
		Header:    cleanHeader(p.Header),
		ParseJSON: p.parseJSON(),
	}
	s.OriginalCookie = strings.Join(s.Header.Values("Cookie"), "; ")
	if err = s.init(p, env, true); err != nil {
		return nil, err
	}
	return s, nil
}

// Reinit prepares a redirected hop. Only the parts of preparation that
// depend on the URL are redone. The plan body, query and first-hop
// signers are not applied again.
func (s *State) Reinit(p *Plan, env Env) error {
	return s.init(p, env, false)
}

func (s *State) init(p *Plan, env Env, first bool) error {
	if err := s.route(p, env); err != nil {
		return err
	}

	if !p.NoHostHeader && s.Header.Get("Host") == "" {
		s.Header.Set("Host", hostHeader(s.URL))
		s.hostSet = true
	}

	if first {
		if err := s.mergeQuery(p.QS); err != nil {
			return err
		}
		if err := s.planBody(p); err != nil {
			return err
		}
	}

	s.Path = s.requestURL().RequestURI()
	if s.Proxy != nil && !s.Tunnel {
		s.Path = s.requestURL().String()
	}

	if first {
		for _, signer := range []Signer{p.Hawk, p.HTTPSignature} {
			if signer != nil {
				if err := signer.Sign(s); err != nil {
					return err
				}
			}
		}
		if p.Auth != nil {
			if err := p.Auth.Authorize(s); err != nil {
				return err
			}
		}
	}

	if s.Header.Get("Accept-Encoding") == "" {
		if ae := p.Decompress.AcceptEncoding(); ae != "" {
			s.Header.Set("Accept-Encoding", ae)
		}
	}

	if s.URL.User != nil && s.Header.Get("Authorization") == "" {
		pass, _ := s.URL.User.Password()
		s.Header.Set("Authorization", "Basic "+basicAuth(s.URL.User.Username(), pass))
		s.AuthSent = true
	}

	// Proxy credentials travel in the request only when the proxy
	// forwards it. A tunneled hop carries them in the CONNECT instead.
	if s.proxyAuthSet {
		s.Header.Del("Proxy-Authorization")
		s.proxyAuthSet = false
	}
	if s.Proxy != nil && !s.Tunnel && s.Proxy.User != nil && s.Header.Get("Proxy-Authorization") == "" {
		pass, _ := s.Proxy.User.Password()
		s.Header.Set("Proxy-Authorization", "Basic "+basicAuth(s.Proxy.User.Username(), pass))
		s.proxyAuthSet = true
	}

	if m, ok := s.body.(*memSource); ok && s.Header.Get("Content-Length") == "" {
		n, _ := m.size()
		s.Header.Set("Content-Length", strconv.FormatInt(n, 10))
	}

	if p.OAuth != nil && (first || s.Header.Get("Authorization") != "") {
		if err := p.OAuth.Sign(s); err != nil {
			return err
		}
	}

	return nil
}

func planURL(p *Plan) (*url.URL, error) {
	uri := p.URI
	if p.BaseURL != "" {
		if strings.HasPrefix(uri, "//") || absoluteURI.MatchString(uri) {
			return nil, &failure.ConfigError{Field: "baseUrl", Err: errors.New("options.uri must be a path when using options.baseUrl")}
		}
		base := p.BaseURL
		switch {
		case uri == "":
			uri = base
		case strings.HasSuffix(base, "/") && strings.HasPrefix(uri, "/"):
			uri = base + uri[1:]
		case strings.HasSuffix(base, "/") || strings.HasPrefix(uri, "/"):
			uri = base + uri
		default:
			uri = base + "/" + uri
		}
	}
	if uri == "" {
		return nil, &failure.InvalidURIError{URI: uri, Err: errors.New("options.uri is a required argument")}
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &failure.InvalidURIError{URI: uri, Err: err}
	}
	u.Host = removeEmptyPort(u.Host)
	return u, nil
}

// route validates the URL and decides the socket, proxy and tunnel.
func (s *State) route(p *Plan, env Env) error {
	u := s.URL
	if u.Scheme == "unix" {
		return &failure.InvalidURIError{
			URI:        u.String(),
			Redirected: s.Redirected,
			Err:        errors.New("`unix://` URL scheme is no longer supported. Please use the format `http://unix:SOCKET:PATH`"),
		}
	}

	s.SocketPath = ""
	if u.Hostname() == "unix" {
		socket, _, _ := strings.Cut(u.Path, ":")
		s.SocketPath = socket
	}
	if u.Hostname() == "" || (u.Hostname() == "unix" && s.SocketPath == "") {
		return &failure.InvalidURIError{URI: u.String(), Redirected: s.Redirected}
	}

	s.Proxy = nil
	switch {
	case p.NoProxy, s.SocketPath != "":
	case p.Proxy != nil:
		s.Proxy = p.Proxy
	case env.Proxy != nil:
		proxy, err := env.Proxy.ResolveProxy(u)
		if err != nil {
			return &failure.ConfigError{Field: "proxy", Err: err}
		}
		s.Proxy = proxy
	}

	switch {
	case s.Proxy == nil:
		s.Tunnel = false
	case p.Tunnel != nil:
		s.Tunnel = *p.Tunnel
	case env.Tunnel != nil:
		s.Tunnel = env.Tunnel.TunnelEnabled(s)
	default:
		s.Tunnel = u.Scheme == "https"
	}
	if s.Proxy != nil && !s.Tunnel && u.Scheme == "https" {
		return &failure.ConfigError{Field: "tunnel", Err: errors.New("an https request through a proxy must be tunneled")}
	}

	return nil
}

func (s *State) mergeQuery(qs interface{}) error {
	var v url.Values
	switch x := qs.(type) {
	case nil:
		return nil
	case url.Values:
		v = x
	case map[string][]string:
		v = x
	default:
		var err error
		v, err = query.Values(qs)
		if err != nil {
			return &failure.ConfigError{Field: "qs", Err: err}
		}
	}
	if len(v) == 0 {
		return nil
	}
	merged := s.URL.Query()
	for k, vals := range v {
		merged[k] = vals
	}
	u := *s.URL
	u.RawQuery = merged.Encode()
	s.URL = &u
	return nil
}

// planBody picks the first of Form, FormData, JSON, Multipart and Body
// that is set.
func (s *State) planBody(p *Plan) error {
	var err error
	switch {
	case p.Form != nil:
		s.setDefault("Content-Type", "application/x-www-form-urlencoded")
		s.body, err = newSource(p.Form.Encode())
	case p.FormData != nil:
		var d *form.Data
		d, err = form.New(p.FormData)
		if err == nil {
			s.useForm(d)
		}
	case p.JSON != nil:
		var b []byte
		b, err = json.Marshal(p.JSON)
		if err != nil {
			return &failure.ConfigError{Field: "json", Err: err}
		}
		s.setDefault("Content-Type", "application/json")
		s.body, err = newSource(b)
	case p.Multipart != nil:
		var (
			ct string
			r  io.Reader
			n  int64
		)
		ct, r, n, err = p.Multipart.Build(s.Header.Get("Content-Type"))
		if err != nil {
			return err
		}
		s.Header.Set("Content-Type", ct)
		if n >= 0 {
			var b []byte
			b, err = io.ReadAll(r)
			if err == nil {
				s.body, err = newSource(b)
			}
		} else {
			s.body = &streamSource{r: r}
		}
	default:
		s.body, err = newSource(p.Body)
	}
	if err != nil {
		return err
	}

	if s.ParseJSON {
		s.setDefault("Accept", "application/json")
	}
	return nil
}

func (s *State) useForm(d *form.Data) {
	s.form = d
	s.body = &formSource{d: d}
	s.Header.Set("Content-Type", d.ContentType())
}

func (s *State) setDefault(key, value string) {
	if s.Header.Get(key) == "" {
		s.Header.Set(key, value)
	}
}

// PrepareBody sets the Content-Length header when the body length can
// be known before sending, and to zero for bodyless requests whose
// method normally carries a body.
func (s *State) PrepareBody() {
	if s.Header.Get("Content-Length") != "" {
		return
	}
	switch b := s.body.(type) {
	case nil:
		if !bodyless[s.Method] {
			s.Header.Set("Content-Length", "0")
		}
	case *formSource, *streamSource:
		if n, ok := b.size(); ok {
			s.Header.Set("Content-Length", strconv.FormatInt(n, 10))
		}
	}
}

// ApplyCookies sets the Cookie header to the caller's cookies followed
// by cookies, the cookie string from the jar.
func (s *State) ApplyCookies(cookies string) {
	switch {
	case cookies == "" && s.OriginalCookie == "":
		s.Header.Del("Cookie")
	case cookies == "":
		s.Header.Set("Cookie", s.OriginalCookie)
	case s.OriginalCookie == "":
		s.Header.Set("Cookie", cookies)
	default:
		s.Header.Set("Cookie", s.OriginalCookie+"; "+cookies)
	}
}

// Start marks the hop as started and applies the AWS signer. Starting
// a hop twice is an error.
func (s *State) Start(p *Plan) error {
	if s.started {
		return errors.New("hopx/request: hop already started")
	}
	s.started = true
	if p.AWS != nil {
		return p.AWS.Sign(s)
	}
	return nil
}

// Started reports whether Start has been called.
func (s *State) Started() bool {
	return s.started
}

// Answered records the Host header the response answered, and drops it
// if the client set it, so the next hop sets it afresh.
func (s *State) Answered() {
	s.OriginalHost = s.Header.Get("Host")
	if s.hostSet {
		s.Header.Del("Host")
		s.hostSet = false
	}
}

// Redirect returns the State of the hop that follows s to next. status
// is the status code of the response being followed, and authz a
// challenge answer to send, if any. The returned State must be
// prepared with Reinit before it is sent.
func (s *State) Redirect(p *Plan, status int, next *url.URL, authz string) (*State, error) {
	n := s.clone()
	n.URL = next
	n.Hop++
	n.Redirected = true
	n.started = false

	if authz != "" {
		n.Header.Set("Authorization", authz)
		n.AuthSent = true
	}

	if p.NoPool || (next.Scheme != s.URL.Scheme && p.Redirect.AllowInsecure) {
		n.Agent = nil
	}

	if !redirect.SameHostname(s.URL, next) {
		n.Header.Del("Host")
		if !p.Redirect.FollowAuthorizationHeader {
			n.Header.Del("Authorization")
		}
	}

	if p.Redirect.Downgrade(status) {
		if n.Method != "HEAD" {
			n.Method = "GET"
		}
		n.body = nil
		n.form = nil
		n.Header.Del("Content-Type")
		n.Header.Del("Content-Length")
	}

	if n.form != nil && n.form.Reusable() {
		d, err := n.form.Rebuild()
		if err != nil {
			return nil, err
		}
		n.Header.Del("Content-Length")
		n.useForm(d)
	}

	if b, ok := n.body.(*streamSource); ok && b.used {
		n.body = nil
		n.Header.Del("Content-Length")
	}

	if !p.Redirect.RemoveReferer {
		n.Header.Set("Referer", referer(s.URL))
	}

	return n, nil
}

func referer(u *url.URL) string {
	r := *u
	r.User = nil
	r.Fragment = ""
	r.RawFragment = ""
	return r.String()
}

func (s *State) clone() *State {
	n := *s
	n.Header = s.Header.Clone()
	return &n
}

// HasBody reports whether the hop carries a body.
func (s *State) HasBody() bool {
	return s.body != nil
}

// Rewindable reports whether the hop's body can be sent again.
func (s *State) Rewindable() bool {
	return s.body == nil || s.body.rewindable()
}

// GetBody returns a function that opens a fresh copy of the body, or
// nil if there is no body or it cannot be re-read.
func (s *State) GetBody() func() (io.ReadCloser, error) {
	if s.body == nil || !s.body.rewindable() {
		return nil
	}
	return s.body.open
}

// Form returns the hop's multipart form, if any.
func (s *State) Form() *form.Data {
	return s.form
}

// ToRequest creates the HTTP request for the hop. The context of the
// new request is set to ctx, which may not be nil.
func (s *State) ToRequest(ctx context.Context) (*http.Request, error) {
	r := template.WithContext(ctx)
	r.Method = s.Method
	r.URL = s.requestURL()
	r.Host = s.Header.Get("Host")
	h := s.Header.Clone()
	h.Del("Host")
	h.Del("Content-Length")
	r.Header = h
	if cl := s.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			r.ContentLength = n
		}
	}
	if s.body != nil {
		body, err := s.body.open()
		if err != nil {
			return nil, err
		}
		r.Body = body
		if s.body.rewindable() {
			r.GetBody = s.body.open
		}
	}
	return r, nil
}

// requestURL is the URL given to the agent: user info is dropped, and
// a Unix socket target is reduced to its request path.
func (s *State) requestURL() *url.URL {
	u := *s.URL
	u.User = nil
	if s.SocketPath != "" {
		_, path, _ := strings.Cut(s.URL.Path, ":")
		if path == "" {
			path = "/"
		}
		u.Host = "unix"
		u.Path = path
		u.RawPath = ""
	}
	return &u
}

func cleanHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if v == nil || !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], v...)
	}
	return out
}

func hostHeader(u *url.URL) string {
	host := removeEmptyPort(u.Host)
	if u.Hostname() == "unix" {
		return "unix"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return host
}

// hasPort is lifted verbatim from net/http/http.go
//
// Given a string of the form "host", "host:port", or "[ipv6::address]:port",
// return true if the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
