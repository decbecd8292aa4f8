// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the core types Plan (describes a logical HTTP
request), State (describes one hop of it) and Execution (describes a
Plan execution).

A Plan describes what the caller wants: method, URI, headers, a body,
and the options that govern redirects, pooling, TLS, timeouts and
response decoding. For those familiar with the Go standard HTTP
library, net/http, a Plan looks like an http.Request with client-only
fields, plus the knobs a multi-hop client needs.

Create a plan and execute it:

	p, err := request.NewPlan("GET", "https://example.com", nil)
	...
	e, err := client.Do(p)
	...

A plan may be assigned a context to allow the whole execution, across
all of its hops, to be cancelled:

	p, err := request.NewPlanWithContext(ctx, "POST", "https://example.com/upload", body)
	...

A State is derived from a Plan for each hop. NewState builds the first
hop. When a response redirects, or answers with a 401 challenge the
plan's Authenticator can meet, State.Redirect derives the next hop
without touching the previous one, and Reinit prepares it for sending.

Execution is both the output of hopx.Client's executing methods and the
input of the callbacks invoked during an execution: timeout policies,
retry deciders and event handlers. The client keeps the current State
in the Execution's single State slot, so the Execution a caller holds
reflects the final hop when the execution ends.
*/
package request
