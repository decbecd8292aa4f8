// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package hopx

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/gogama/hopx/agent"
	"github.com/gogama/hopx/decode"
	"github.com/gogama/hopx/failure"
	"github.com/gogama/hopx/pool"
	"github.com/gogama/hopx/redirect"
	"github.com/gogama/hopx/request"
	"github.com/gogama/hopx/retry"
	"github.com/gogama/hopx/timeout"
)

const chunkSize = 32 * 1024

// An exec drives one plan execution from its first hop to its terminal
// event. It is used by a single goroutine.
type exec struct {
	p        *request.Plan
	e        *request.Execution
	env      request.Env
	provider agent.Provider
	registry *pool.Registry
	timeouts timeout.Policy
	decider  retry.Decider
	handlers *HandlerGroup
	log      Logger

	engine    *redirect.Engine
	ctx       context.Context
	cancel    context.CancelCauseFunc
	dedicated []*pool.Entry

	hopCtx    context.Context
	hopCancel context.CancelCauseFunc
	watch     *timeout.Watch
	tracer    *tracer
}

func (x *exec) run() {
	x.handlers.run(BeforeExecutionStart, x.e)
	x.e.Start = time.Now()
	x.engine = redirect.NewEngine(x.p.Redirect)
	x.ctx, x.cancel = context.WithCancelCause(x.p.Context())
	x.e.SetCanceler(x.cancel)
	x.finish(x.loop())
}

func (x *exec) loop() error {
	s, err := request.NewState(x.p, x.env)
	if err != nil {
		return err
	}
	x.e.State = s

	followed := true
	for followed {
		if err = x.hop(); err != nil {
			return err
		}
		if followed, err = x.receive(); err != nil {
			return err
		}
	}
	return x.decode()
}

// hop binds an agent to the current State and sends it, re-sending on
// a fresh connection when the retry decider allows.
func (x *exec) hop() error {
	e := x.e
	s := e.State
	if err := x.bind(s); err != nil {
		return err
	}
	if x.p.Jar != nil {
		cookies, err := x.p.Jar.CookieString(x.ctx, s.URL)
		if err != nil {
			x.log.Debugf("cookie jar lookup for %s failed: %v", s.URL.Redacted(), err)
			cookies = ""
		}
		s.ApplyCookies(cookies)
	}

	e.Phase = request.BodyPending
	s.PrepareBody()
	if err := s.Start(x.p); err != nil {
		return err
	}
	e.Phase = request.Started
	e.Request = nil
	e.Response = nil
	e.ConnReused = false
	e.Retried = 0
	x.handlers.run(BeforeHop, e)
	if e.Aborted() {
		return failure.ErrAborted
	}

	x.hopCtx, x.hopCancel = context.WithCancelCause(x.ctx)
	x.watch = timeout.NewWatch(x.timeouts.Timeout(e), x.hopCancel)
	x.tracer = newTracer(x.watch)
	for {
		resp, err := x.send(s, e.Retried > 0)
		if err == nil {
			e.Response = resp
			return nil
		}
		if !x.resend(s, err) {
			return err
		}
		e.Retried++
	}
}

func (x *exec) send(s *request.State, fresh bool) (*http.Response, error) {
	ctx := agent.WithRoute(x.hopCtx, agent.Route{
		Proxy:      s.Proxy,
		Tunnel:     s.Tunnel,
		SocketPath: s.SocketPath,
	})
	ctx = httptrace.WithClientTrace(ctx, x.tracer.trace())
	r, err := s.ToRequest(ctx)
	if err != nil {
		return nil, x.classify(err)
	}
	x.e.Request = r
	x.e.Phase = request.AwaitingResponse

	var resp *http.Response
	if nr, ok := s.Agent.Agent.(agent.NoReuser); ok && fresh {
		resp, err = nr.RoundTripNoReuse(r)
	} else {
		resp, err = s.Agent.Agent.RoundTrip(r)
	}
	x.e.ConnReused = x.tracer.connReused()
	x.flush()
	if err != nil {
		return nil, x.classify(err)
	}
	x.watch.Headers()
	return resp, nil
}

func (x *exec) resend(s *request.State, err error) bool {
	if x.e.Aborted() || x.hopCtx.Err() != nil || !s.Rewindable() {
		return false
	}
	if _, ok := s.Agent.Agent.(agent.NoReuser); !ok {
		return false
	}
	x.e.Err = err
	defer func() { x.e.Err = nil }()
	return x.decider.Decide(x.e)
}

// bind gives the State an agent, unless it carries one over from the
// previous hop.
func (x *exec) bind(s *request.State) error {
	if s.Agent != nil {
		return nil
	}

	scheme := s.URL.Scheme
	v := x.p.ProtocolVersion
	if v == "" {
		v = agent.HTTP1
	}
	m := x.p.Agent.Module
	if m == nil {
		var ok bool
		if m, ok = x.provider.Resolve(scheme, v); !ok {
			return &failure.ProtocolUnsupportedError{Scheme: scheme, Version: string(v)}
		}
	}

	secure := scheme == "https" || (s.Proxy != nil && !s.Tunnel && s.Proxy.Scheme == "https")
	var tc *tls.Config
	if secure {
		var err error
		if tc, err = x.p.TLS.Config(); err != nil {
			return err
		}
	}
	kind := x.p.Agent.Kind
	if kind == "" && x.p.Agent.Module != nil {
		kind = m.Name()
	}

	spec := pool.Spec{
		Key:    pool.NewKey(v, scheme, kind, &x.p.TLS, secure),
		Module: m,
		Config: agent.Config{
			Scheme:  scheme,
			Options: x.p.Agent,
			TLS:     tc,
		},
		IdleTimeout: x.p.Agent.IdleTimeout,
		Shared:      x.registry == DefaultPool,
		Plain:       x.p.Agent.IsZero() && (!secure || x.p.TLS.IsZero()),
	}

	var entry *pool.Entry
	var err error
	if x.p.NoPool {
		entry, err = pool.Dedicated(spec)
		if err == nil {
			x.dedicated = append(x.dedicated, entry)
		}
	} else {
		entry, err = x.registry.Acquire(spec)
	}
	if err != nil {
		return typed(err)
	}
	s.Agent = entry
	return nil
}

// receive handles the response of the current hop. It reports whether
// a redirect or challenge was followed, in which case the execution
// holds the next State, ready to send.
func (x *exec) receive() (followed bool, err error) {
	e := x.e
	s := e.State
	resp := e.Response
	defer func() {
		if err != nil {
			_ = resp.Body.Close()
		}
	}()

	e.Phase = request.ResponseReceived
	if x.p.StrictSSL && s.URL.Scheme == "https" && (resp.TLS == nil || len(resp.TLS.VerifiedChains) == 0) {
		return false, &failure.SSLVerificationError{Err: errors.New("server certificate was not verified")}
	}
	s.Answered()

	e.Phase = request.CookieSync
	x.syncCookies(s.URL, resp)

	e.Phase = request.RedirectDecision
	next, err := x.redirect(s, resp)
	if err != nil || next == nil {
		return false, err
	}

	e.Phase = request.Reinit
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	x.endHop()
	if x.p.NoPool {
		s.Agent.Agent.CloseIdleConnections()
	}
	x.flush()
	e.State = next
	x.handlers.run(BeforeRedirect, e)
	x.log.Debugf("redirect %d from %s to %s", resp.StatusCode, s.URL.Redacted(), next.URL.Redacted())
	if e.Aborted() {
		return false, failure.ErrAborted
	}
	return true, next.Reinit(x.p, x.env)
}

// syncCookies stores every Set-Cookie value in order. Failures are
// logged and skipped.
func (x *exec) syncCookies(u *url.URL, resp *http.Response) {
	if x.p.Jar == nil {
		return
	}
	for _, raw := range resp.Header.Values("Set-Cookie") {
		if err := x.p.Jar.SetCookie(x.ctx, raw, u); err != nil {
			x.log.Debugf("cookie jar rejected cookie from %s: %v", u.Redacted(), err)
		}
	}
}

// redirect returns the next State if resp proposes a hop that the
// admission allows, or nil if resp is final.
func (x *exec) redirect(s *request.State, resp *http.Response) (*request.State, error) {
	var challenge redirect.Challenger
	if x.p.Auth != nil {
		challenge = func(resp *http.Response) (string, bool) {
			return x.p.Auth.Challenge(resp, s)
		}
	}
	t, ok := x.engine.Target(s.Method, s.URL, resp, challenge)
	if !ok {
		return nil, nil
	}

	v, err := x.p.Redirect.Admission.Admit(resp).Await(x.hopCtx)
	if err != nil {
		return nil, err
	}
	if !v.Follow() {
		return nil, nil
	}
	location := t.Location
	if o, ok := v.Location(); ok {
		location = o
	}

	u, err := x.engine.Follow(s.URL, location, resp.StatusCode)
	if err != nil {
		return nil, err
	}
	x.e.Redirects = x.engine.Records()
	return s.Redirect(x.p, resp.StatusCode, u, t.Authorization)
}

// decode reads the final response body through the decoder pipeline.
func (x *exec) decode() error {
	e := x.e
	resp := e.Response
	e.Phase = request.Decoding
	x.flush()
	x.handlers.run(AfterResponse, e)

	pipe := decode.NewPipeline(resp.Body, e.State.Method, resp.StatusCode, resp.Header.Get("Content-Encoding"), x.p.Decompress)
	defer func() {
		_ = pipe.Close()
	}()
	e.Encoding = pipe.Encoding
	if pipe.Ignored != "" {
		x.log.Debugf("ignoring unknown content encoding %q from %s", pipe.Ignored, e.State.URL.Redacted())
	}

	limit := decode.NewLimit(x.p.MaxResponseSize)
	var body bytes.Buffer
	buf := make([]byte, chunkSize)
	for {
		if e.Aborted() {
			return failure.ErrAborted
		}
		n, err := pipe.Read(buf)
		if n > 0 {
			x.watch.Progress()
			if lerr := limit.Take(n); lerr != nil {
				x.hopCancel(lerr)
				return lerr
			}
			e.Chunk = buf[:n]
			x.handlers.run(OnData, e)
			e.Chunk = nil
			body.Write(buf[:n])
			e.Downloaded = pipe.Downloaded()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return x.classify(err)
		}
	}

	x.watch.Stop()
	e.Downloaded = pipe.Downloaded()
	x.flush()
	if x.p.Time {
		t := x.tracer.end()
		ph := t.Phases()
		e.Timings, e.Phases = &t, &ph
	}
	e.Body = body.Bytes()
	if e.Body == nil {
		e.Body = []byte{}
	}
	if e.Aborted() {
		return failure.ErrAborted
	}
	x.handlers.run(AfterBodyEnd, e)

	ct := resp.Header.Get("Content-Type")
	if x.p.Encoding != "" {
		text, err := decode.Text(e.Body, x.p.Encoding, ct)
		if err != nil {
			return &failure.ConfigError{Field: "encoding", Err: err}
		}
		e.Text = text
	}
	if e.State.ParseJSON && len(e.Body) > 0 {
		text := e.Text
		if x.p.Encoding == "" {
			text, _ = decode.Text(e.Body, "utf8", ct)
		}
		if v, ok := decode.JSON(text); ok {
			e.JSON = v
		} else {
			e.JSON = text
			x.log.Debugf("invalid JSON received from %s", e.State.URL.Redacted())
		}
	}
	if x.p.StatusMessageEncoding != "" {
		resp.Status = decode.StatusMessage(resp.Status, x.p.StatusMessageEncoding)
	}
	return nil
}

// flush dispatches the events the tracer queued.
func (x *exec) flush() {
	if x.tracer == nil {
		return
	}
	for _, evt := range x.tracer.drain() {
		x.handlers.run(evt, x.e)
	}
}

// endHop releases the timers and context of the current hop.
func (x *exec) endHop() {
	if x.watch != nil {
		x.watch.Stop()
	}
	if x.hopCancel != nil {
		x.hopCancel(nil)
	}
}

func (x *exec) finish(err error) {
	e := x.e
	x.endHop()
	for _, entry := range x.dedicated {
		entry.Agent.CloseIdleConnections()
	}
	x.cancel(nil)

	aborted := e.Aborted()
	switch {
	case aborted:
		e.Phase = request.Aborted
		e.Chunk = nil
		e.Body = nil
		e.Err = x.wrap(failure.ErrAborted)
		x.handlers.run(AfterAbort, e)
		x.handlers.run(AfterError, e)
	case err != nil:
		e.Phase = request.Error
		e.Err = x.wrap(err)
		x.handlers.run(AfterError, e)
	default:
		e.Phase = request.Complete
		x.handlers.run(AfterComplete, e)
	}

	e.End = time.Now()
	x.handlers.run(AfterExecutionEnd, e)
}

// classify turns a send or read error into one of the failure types.
// When the hop was cancelled, the cause of the cancellation wins.
func (x *exec) classify(err error) error {
	if x.hopCtx != nil {
		if cause := context.Cause(x.hopCtx); cause != nil {
			return cause
		}
	}
	var (
		verify    *tls.CertificateVerificationError
		authority x509.UnknownAuthorityError
		hostname  x509.HostnameError
		invalid   x509.CertificateInvalidError
	)
	if errors.As(err, &verify) || errors.As(err, &authority) || errors.As(err, &hostname) || errors.As(err, &invalid) {
		return &failure.SSLVerificationError{Err: err}
	}
	return typed(err)
}

// typed passes errors from package failure through and wraps any other
// error in a *failure.TransportError.
func typed(err error) error {
	var (
		transport *failure.TransportError
		config    *failure.ConfigError
		formErr   *failure.FormEncodingError
		ssl       *failure.SSLVerificationError
		timedOut  *failure.TimeoutError
	)
	switch {
	case errors.Is(err, failure.ErrAborted),
		errors.As(err, &transport),
		errors.As(err, &config),
		errors.As(err, &formErr),
		errors.As(err, &ssl),
		errors.As(err, &timedOut):
		return err
	}
	return &failure.TransportError{Err: err}
}

func (x *exec) wrap(err error) error {
	if _, ok := err.(*url.Error); ok {
		return err
	}

	method := x.p.Method
	uri := x.p.URI
	if s := x.e.State; s != nil {
		method = s.Method
		uri = s.URL.Redacted()
	}
	return &url.Error{
		Op:  urlErrorOp(method),
		URL: uri,
		Err: err,
	}
}
