// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package redirect decides whether a response sends the request on to
// another hop, and keeps count of the hops taken.
//
// A hop is redirected when the response is a 3xx with a Location
// header that the policy allows following, or a 401 whose challenge
// the request's authenticator can answer. Either way the caller's
// Admission gets the final say.
package redirect

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gogama/hopx/failure"

	"golang.org/x/net/idna"
)

// DefaultMaxRedirects is the redirect limit used when Policy leaves
// MaxRedirects at zero.
const DefaultMaxRedirects = 10

// Policy configures how redirects are followed. The zero value follows
// up to DefaultMaxRedirects redirects of safe methods.
type Policy struct {
	// NoFollow, if true, disables following 3xx redirects unless
	// FollowAll is set. 401 re-sends are unaffected.
	NoFollow bool
	// FollowAll follows 3xx redirects of every method, including POST,
	// PUT, PATCH and DELETE.
	FollowAll bool
	// FollowOriginalMethod keeps the method and body on every redirect
	// instead of switching to GET.
	FollowOriginalMethod bool
	// FollowAuthorizationHeader keeps the Authorization header when a
	// redirect moves to another hostname.
	FollowAuthorizationHeader bool
	// RemoveReferer stops the Referer header being set on redirects.
	RemoveReferer bool
	// MaxRedirects limits the redirects followed. Zero, the default,
	// means DefaultMaxRedirects rather than none. Set a negative value
	// to follow no redirects at all.
	MaxRedirects int
	// AllowInsecure lets a redirect change scheme, between https and
	// http, by dropping the hop's agent so a new one is picked.
	AllowInsecure bool
	// Admission has the final say on each redirect. The zero value
	// admits every redirect.
	Admission Admission
}

// Max returns the effective redirect limit.
func (p *Policy) Max() int {
	switch {
	case p.MaxRedirects == 0:
		return DefaultMaxRedirects
	case p.MaxRedirects < 0:
		return 0
	}
	return p.MaxRedirects
}

// Downgrade reports whether a redirect with the given status switches
// the request to GET and drops its body.
func (p *Policy) Downgrade(status int) bool {
	return !p.FollowOriginalMethod && status != 401 && status != 307 && status != 308
}

// A Record is one redirect taken.
type Record struct {
	StatusCode int
	// URI is the absolute target of the redirect.
	URI string
}

// A Challenger answers an authentication challenge. It returns the
// Authorization header to re-send the request with, or false.
type Challenger func(resp *http.Response) (string, bool)

// A Target is the next hop proposed by a response.
type Target struct {
	// Location is the target as given by the response, possibly
	// relative.
	Location string
	// Authorization, if not empty, is a header value answering a 401
	// challenge.
	Authorization string
}

// An Engine counts the redirects of one execution.
type Engine struct {
	policy   Policy
	followed int
	records  []Record
}

// NewEngine returns an engine for a policy.
func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() *Policy {
	return &e.policy
}

// Target returns the hop a response proposes for a request sent with
// method to current. It does not consult the admission.
func (e *Engine) Target(method string, current *url.URL, resp *http.Response, challenge Challenger) (Target, bool) {
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location, ok := resp.Header["Location"]
		if !ok || len(location) == 0 || location[0] == "" {
			return Target{}, false
		}
		switch {
		case e.policy.FollowAll:
		case e.policy.NoFollow:
			return Target{}, false
		case method == "PATCH" || method == "PUT" || method == "POST" || method == "DELETE":
			return Target{}, false
		}
		return Target{Location: location[0]}, true
	}

	if resp.StatusCode == 401 && challenge != nil {
		if authz, ok := challenge(resp); ok && authz != "" {
			return Target{Location: current.String(), Authorization: authz}, true
		}
	}

	return Target{}, false
}

var absolute = regexp.MustCompile(`^https?:`)

// Follow counts a redirect and resolves location against current. It
// fails with *failure.TooManyRedirectsError once the limit is reached
// and *failure.URLParseError if location cannot be resolved.
func (e *Engine) Follow(current *url.URL, location string, status int) (*url.URL, error) {
	if e.followed >= e.policy.Max() {
		return nil, &failure.TooManyRedirectsError{Max: e.policy.Max(), URI: current.String()}
	}
	e.followed++

	next, err := url.Parse(location)
	if err != nil {
		return nil, &failure.URLParseError{URI: current.String(), Location: location, Err: err}
	}
	if !absolute.MatchString(location) {
		next = current.ResolveReference(next)
	}

	e.records = append(e.records, Record{StatusCode: status, URI: next.String()})
	return next, nil
}

// Followed returns the number of redirects followed so far.
func (e *Engine) Followed() int {
	return e.followed
}

// Records returns the redirects followed so far, oldest first.
func (e *Engine) Records() []Record {
	return append([]Record(nil), e.records...)
}

// SameHostname reports whether a and b name the same host, ignoring
// port, scheme and case, and comparing internationalized names in
// their ASCII form.
func SameHostname(a, b *url.URL) bool {
	return hostname(a) == hostname(b)
}

func hostname(u *url.URL) string {
	h := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(h); err == nil {
		return ascii
	}
	return h
}
