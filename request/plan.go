// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gogama/hopx/agent"
	"github.com/gogama/hopx/decode"
	"github.com/gogama/hopx/form"
	"github.com/gogama/hopx/pool"
	"github.com/gogama/hopx/redirect"

	"golang.org/x/net/http/httpguts"
)

const (
	nilCtxMsg = "hopx/request: nil context"
)

// A Plan is a logical HTTP request: what the caller wants done, before
// any redirect or authentication round trip is taken into account.
//
// A client never modifies a Plan. Everything that changes from one hop
// to the next lives in the State held by the Execution, so one Plan can
// be executed any number of times, including concurrently, provided
// its Body is not a one-shot stream.
//
// The zero value of every field means the default. Only URI is
// required.
type Plan struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.).
	// An empty string means GET.
	Method string

	// URI is the request URI. It is parsed when the execution starts,
	// so an invalid URI is reported as the execution's error. If
	// BaseURL is set, URI must be a path relative to it.
	//
	// A URI with host "unix" addresses a Unix domain socket, in the
	// form http://unix:/path/to/socket:/request/path.
	URI string

	// BaseURL is prepended to URI.
	BaseURL string

	// Header contains the request header fields to be sent. Invalid
	// field names and nil values are dropped.
	Header http.Header

	// Body is the request body. It may be nil, a string, a []byte, a
	// [][]byte sent back to back, or an io.Reader that is streamed.
	// Empty bodies are not sent.
	Body interface{}

	// QS is merged into the URI query on the first hop. It is either a
	// url.Values or a struct encoded with go-querystring tags.
	QS interface{}

	// Form is sent as an application/x-www-form-urlencoded body.
	Form url.Values

	// FormData is sent as a multipart/form-data body.
	FormData []form.Field

	// Multipart is sent as a multipart/related body.
	Multipart *form.Multipart

	// JSON, if not nil, is encoded as the request body. It implies
	// ParseJSON.
	JSON interface{}

	// ParseJSON asks for a JSON response and parses the body into
	// Execution.JSON.
	ParseJSON bool

	// Jar stores response cookies and supplies request cookies.
	Jar CookieJar

	// Auth answers 401 challenges, and may authorize the first hop.
	Auth Authenticator

	// AWS signs every hop just before it is sent.
	AWS Signer

	// Hawk and HTTPSignature sign the first hop.
	Hawk          Signer
	HTTPSignature Signer

	// OAuth signs the first hop, and any later hop that still carries
	// an Authorization header.
	OAuth Signer

	// Redirect is the redirect policy.
	Redirect redirect.Policy

	// Timeout is the hop timeout. It limits the wait for response
	// headers on a new connection, and otherwise the time a socket may
	// sit idle. Zero means no timeout.
	Timeout time.Duration

	// MaxResponseSize limits the decoded response body to this many
	// bytes. A body of exactly MaxResponseSize bytes is accepted. Zero,
	// the default, and negative values mean no limit, so zero does not
	// reject non-empty bodies.
	MaxResponseSize int64

	// Decompress selects the content encodings advertised and undone.
	Decompress decode.Options

	// Encoding, if set, decodes the response body into Execution.Text.
	// See decode.Text for the supported names.
	Encoding string

	// StatusMessageEncoding, if set, re-decodes the response reason
	// phrase.
	StatusMessageEncoding string

	// Pool is the agent registry. If nil, the client's default
	// registry is used.
	Pool *pool.Registry

	// NoPool gives each hop a dedicated agent, closed after use.
	NoPool bool

	// Agent holds the agent options, which also pick the pool entry.
	Agent agent.Options

	// TLS holds the client TLS options.
	TLS agent.TLSOptions

	// StrictSSL fails https hops whose server certificate was not
	// verified.
	StrictSSL bool

	// ProtocolVersion picks the transport module. Empty means HTTP1.
	ProtocolVersion agent.Version

	// Proxy overrides the proxy resolver.
	Proxy *url.URL

	// NoProxy disables proxying altogether.
	NoProxy bool

	// Tunnel, if set, decides whether to tunnel through the proxy with
	// CONNECT. Otherwise https targets are tunneled.
	Tunnel *bool

	// NoHostHeader stops the client managing the Host header.
	NoHostHeader bool

	// Time collects hop timings into Execution.Timings.
	Time bool

	// ctx allows the entire Plan exec to be cancelled. It should only
	// be modified by copying the whole Plan using WithContext.
	ctx context.Context
}

// NewPlan wraps NewPlanWithContext using the background context.
func NewPlan(method, uri string, body interface{}) (*Plan, error) {
	return NewPlanWithContext(context.Background(), method, uri, body)
}

// NewPlanWithContext returns a new Plan given a method, URI, and
// optional body.
//
// Parameter body may be nil, a string, []byte, [][]byte or io.Reader.
// The URI is not parsed until the plan is executed.
func NewPlanWithContext(ctx context.Context, method, uri string, body interface{}) (*Plan, error) {
	if ctx == nil {
		return nil, errors.New(nilCtxMsg)
	}
	if method == "" {
		method = "GET"
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, fmt.Errorf("hopx/request: invalid method %q", method)
	}
	if err := checkBody(body); err != nil {
		return nil, err
	}
	return &Plan{
		ctx:    ctx,
		Method: method,
		URI:    uri,
		Header: make(http.Header),
		Body:   body,
	}, nil
}

// Context returns the request plan's context. The context controls
// cancellation of the overall request plan. To change the context, use
// WithContext.
//
// The returned context is always non-nil; it defaults to the
// background context.
func (p *Plan) Context() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of p with its context changed to
// ctx, which must be non-nil.
//
// The context controls the entire lifetime of the execution, across
// every hop, including event handlers and redirect admissions.
func (p *Plan) WithContext(ctx context.Context) *Plan {
	if ctx == nil {
		panic(nilCtxMsg)
	}
	p2 := new(Plan)
	*p2 = *p
	p2.ctx = ctx
	return p2
}

// AddCookie adds a cookie to the request. Per RFC 6265 section 5.4,
// AddCookie does not attach more than one Cookie header field. That
// means all cookies, if any, are written into the same line,
// separated by semicolons.
func (p *Plan) AddCookie(c *http.Cookie) {
	if p.Header == nil {
		p.Header = make(http.Header)
	}
	c2 := &http.Cookie{Name: c.Name, Value: c.Value}
	s := c2.String()
	if h := p.Header.Get("Cookie"); h != "" {
		p.Header.Set("Cookie", h+"; "+s)
	} else {
		p.Header.Set("Cookie", s)
	}
}

// SetBasicAuth sets the request plan's Authorization header to use HTTP
// Basic Authentication with the provided username and password.
func (p *Plan) SetBasicAuth(username, password string) {
	if p.Header == nil {
		p.Header = make(http.Header)
	}
	p.Header.Set("Authorization", "Basic "+basicAuth(username, password))
}

func (p *Plan) parseJSON() bool {
	return p.ParseJSON || p.JSON != nil
}

func (p *Plan) method() string {
	if p.Method == "" {
		return "GET"
	}
	return p.Method
}

// basicAuth is lifted verbatim from net/http/client.go.
//
// See 2 (end of page 4) https://www.ietf.org/rfc/rfc2617.txt
// "To receive authorization, the client sends the userid and password,
// separated by a single colon (":") character, within a base64
// encoded string in the credentials."
// It is not meant to be urlencoded.
func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

const badBodyTypeMsg = "hopx/request: invalid type (for body use nil, " +
	"string, []byte, [][]byte or io.Reader)"

func checkBody(body interface{}) error {
	switch body.(type) {
	case nil, string, []byte, [][]byte, io.Reader:
		return nil
	}
	return errors.New(badBodyTypeMsg)
}
