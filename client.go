// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package hopx

import (
	"net/url"
	"strings"
	"sync"

	"github.com/gogama/hopx/agent"
	"github.com/gogama/hopx/pool"
	"github.com/gogama/hopx/request"
	"github.com/gogama/hopx/retry"
	"github.com/gogama/hopx/timeout"
)

// DefaultPool is the agent registry used by clients that do not set
// their own. Plain requests drawing from DefaultPool share the
// process-wide default agent of their transport module.
var DefaultPool = pool.NewRegistry()

var envProxy = sync.OnceValue(request.EnvProxy)

// A Client is an HTTP client engine. It turns each request plan into
// one or more hops, following redirects and authentication challenges,
// and decodes the final response. Its zero value is a valid
// configuration.
//
// The zero value client resolves transport modules with
// agent.DefaultProvider, draws agents from DefaultPool, reads proxy
// settings from the environment, uses timeout.DefaultPolicy and
// retry.DefaultDecider, runs no event handlers and logs nothing.
//
// Agents hold open connections, so Client instances should be reused
// instead of created as needed. Client is safe for concurrent use by
// multiple goroutines.
//
// Beyond sending the request, Client adds the following features:
//
// • Client follows redirects and 401 challenges according to the
// plan's redirect policy and authenticator, carrying cookies from hop
// to hop through the plan's jar;
//
// • Client reads and decodes the entire final response body into the
// Execution, undoing content encodings and enforcing a size limit;
//
// • Client times out hops that cannot connect, or whose connection sits
// idle, according to a customizable timeout policy;
//
// • Client re-sends a hop once on a fresh connection when a stale
// pooled connection was torn down under it;
//
// • Client invokes user-provided handler functions at designated
// plug-in points within the lifecycle; and
//
// • Client implements the hopx.Executor interface.
type Client struct {
	// Provider picks the transport module for each hop.
	//
	// If Provider is nil, agent.DefaultProvider is used.
	Provider agent.Provider
	// Pool holds the agents shared between executions. A plan may
	// override it with its own Pool.
	//
	// If Pool is nil, DefaultPool is used.
	Pool *pool.Registry
	// ProxyResolver picks the proxy for plans that do not set one.
	//
	// If ProxyResolver is nil, the HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// environment variables are used.
	ProxyResolver request.ProxyResolver
	// Tunneler decides whether proxied hops tunnel through the proxy
	// when the plan does not say.
	//
	// If Tunneler is nil, https targets are tunneled.
	Tunneler request.Tunneler
	// TimeoutPolicy sets the timeout of each hop.
	//
	// If TimeoutPolicy is nil, timeout.DefaultPolicy is used.
	TimeoutPolicy timeout.Policy
	// RetryDecider decides whether a hop whose send failed is sent
	// again on a fresh connection.
	//
	// If RetryDecider is nil, retry.DefaultDecider is used.
	RetryDecider retry.Decider
	// Handlers allows custom handler chains to be invoked when
	// designated events occur during execution of a request plan.
	//
	// If Handlers is nil, no custom handlers will be run.
	Handlers *HandlerGroup
	// Logger receives debug lines about conditions that do not fail an
	// execution.
	//
	// If Logger is nil, nothing is logged.
	Logger Logger
}

// Do executes a request plan and returns the final execution state.
//
// The result is the state after the final hop. A redirect or
// challenge that is not followed, whether by policy or because the
// admission denied it, makes its response final. A non-2XX status
// code in the final response does not result in an error.
//
// An error is returned if any hop could not be prepared or sent, if a
// redirect could not be followed, if the final body could not be read
// or decoded, or if the execution was aborted. The returned Execution
// is never nil, and its Err field always references the returned
// error.
//
// Any returned error will be of type *url.Error, wrapping one of the
// error types from package failure or failure.ErrAborted. The
// url.Error's Timeout method, and the Execution's Timeout method,
// return true if the final hop timed out.
//
// For simple use cases, the Get, Head, Post, and PostForm methods may
// prove easier to use than Do.
func (c *Client) Do(p *request.Plan) (*request.Execution, error) {
	x := c.newExec(p)
	x.run()
	return x.e, x.e.Err
}

// Start executes a request plan on a new goroutine and returns a Call
// tracking it. The client's handlers are bound before Start returns,
// so they see every event of the execution.
func (c *Client) Start(p *request.Plan) *Call {
	x := c.newExec(p)
	call := &Call{e: x.e, done: make(chan struct{})}
	go func() {
		defer close(call.done)
		x.run()
	}()
	return call
}

// Get issues a GET to the specified URL, using the same policies
// followed by Do.
//
// To make a request plan with custom headers, use request.NewPlan and
// Client.Do.
func (c *Client) Get(url string) (*request.Execution, error) {
	return Get(c, url)
}

// Head issues a HEAD to the specified URL, using the same policies
// followed by Do.
//
// To make a request plan with custom headers, use request.NewPlan and
// Client.Do.
func (c *Client) Head(url string) (*request.Execution, error) {
	return Head(c, url)
}

// Post issues a POST to the specified URL, using the same policies
// followed by Do.
//
// The body parameter may be nil for an empty body, or any of the types
// supported by request.NewPlan, namely: string; []byte; [][]byte; and
// io.Reader.
//
// To make a request plan with custom headers, use request.NewPlan and
// Client.Do.
func (c *Client) Post(url, contentType string, body interface{}) (*request.Execution, error) {
	return Post(c, url, contentType, body)
}

// PostForm issues a POST to the specified URL, with data's keys and
// values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
// To set other headers, use request.NewPlan and Client.Do.
func (c *Client) PostForm(url string, data url.Values) (*request.Execution, error) {
	return PostForm(c, url, data)
}

// CloseIdleConnections closes the idle connections of every agent
// registered in the client's pool. It does not interrupt connections
// in use, and does not reach the transport modules' default agents.
func (c *Client) CloseIdleConnections() {
	c.pool().CloseIdleConnections()
}

func (c *Client) pool() *pool.Registry {
	if c.Pool == nil {
		return DefaultPool
	}
	return c.Pool
}

func (c *Client) newExec(p *request.Plan) *exec {
	x := &exec{
		p:        p,
		e:        &request.Execution{Plan: p},
		provider: c.Provider,
		registry: c.pool(),
		timeouts: c.TimeoutPolicy,
		decider:  c.RetryDecider,
		handlers: c.Handlers,
		log:      c.Logger,
		env: request.Env{
			Proxy:  c.ProxyResolver,
			Tunnel: c.Tunneler,
		},
	}
	if x.provider == nil {
		x.provider = agent.DefaultProvider
	}
	if p.Pool != nil {
		x.registry = p.Pool
	}
	if x.timeouts == nil {
		x.timeouts = timeout.DefaultPolicy
	}
	if x.decider == nil {
		x.decider = retry.DefaultDecider
	}
	if x.log == nil {
		x.log = &disableLogger{}
	}
	if x.env.Proxy == nil {
		x.env.Proxy = envProxy()
	}
	return x
}

// A Call is a plan execution running on its own goroutine, started by
// Client.Start.
type Call struct {
	e    *request.Execution
	done chan struct{}
}

// Execution returns the execution. Its fields must not be read until
// Done is closed, except through methods documented as safe for
// concurrent use, such as Abort.
func (c *Call) Execution() *request.Execution {
	return c.e
}

// Abort aborts the execution. It may be called any number of times,
// from any goroutine.
func (c *Call) Abort() {
	c.e.Abort()
}

// Done returns a channel that is closed when the execution has ended
// and every event handler has returned.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait waits for the execution to end and returns it, in the same way
// as Client.Do.
func (c *Call) Wait() (*request.Execution, error) {
	<-c.done
	return c.e, c.e.Err
}

// urlErrorOp is lifted verbatim from net/http/client.go
func urlErrorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}
