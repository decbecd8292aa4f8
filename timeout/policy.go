// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"time"

	"github.com/gogama/hopx/request"
)

// A Policy defines a timeout policy which may be plugged into the HTTP
// client (hopx.Client) to direct how to set the timeout of each hop.
//
// The timeout applies twice within a hop. On a new connection, it limits
// the wall-clock time from the start of dialing until the response
// headers arrive. Once headers arrive, or as soon as a reused connection
// is obtained, it limits the time the connection may sit idle between
// response chunks. A zero or negative timeout disables both.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the timeout to set on the next hop within the
	// plan execution.
	//
	// Parameter e contains the current state of the execution. Its
	// State field holds the hop about to be sent.
	Timeout(e *request.Execution) time.Duration
}

// DefaultPolicy is the default timeout policy. It uses the Timeout
// field of the plan being executed.
var DefaultPolicy Policy = planPolicy{}

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(0)

// Fixed constructs a timeout policy that uses the same value for every
// hop, ignoring the plan's own Timeout.
func Fixed(d time.Duration) Policy {
	return policy([]time.Duration{d})
}

// PerHop constructs a timeout policy that varies the timeout with the
// hop number.
//
// Use PerHop when the first hop should fail fast but the hops that
// follow a redirect, typically to a login or storage service, are
// known to be slower.
//
// Parameter first is the timeout of the first hop. Parameter after
// contains the timeouts of the hops that follow: after[0] for the second
// hop, after[1] for the third, and so on. If there are more hops than
// after has elements, the last element of after is used.
//
// Consider the following timeout policy:
//
//	p := PerHop(200*time.Millisecond, time.Second, 10*time.Second)
//
// The policy p gives the first hop 200 milliseconds, the second hop 1
// second, and every later hop 10 seconds.
func PerHop(first time.Duration, after ...time.Duration) Policy {
	p := make([]time.Duration, 1, 1+len(after))
	p[0] = first
	return policy(append(p, after...))
}

type policy []time.Duration

func (p policy) Timeout(e *request.Execution) time.Duration {
	i := e.Hop()
	if i > len(p)-1 {
		i = len(p) - 1
	}

	return p[i]
}

type planPolicy struct{}

func (planPolicy) Timeout(e *request.Execution) time.Duration {
	if e.Plan == nil {
		return 0
	}

	return e.Plan.Timeout
}
