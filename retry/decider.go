// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/hopx/request"
	"github.com/gogama/hopx/transient"
)

// A Decider decides whether a hop whose send failed is sent again on a
// fresh connection.
//
// The client only consults the Decider when the hop's body can be
// supplied again and the hop's agent can send without reusing a pooled
// connection. When Decide is called, e.Err holds the send error,
// e.ConnReused tells whether the failed send used a pooled connection,
// and e.Retried counts the sends of the hop already repeated.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
//
// Use the built-in constructors Times and Before, and the built-in
// deciders StaleConn and TransientErr; or implement your Decider. Use
// DeciderFunc to convert an ordinary function into a Decider, and to
// compose deciders logically using DeciderFunc.And and DeciderFunc.Or.
type Decider interface {
	Decide(e *request.Execution) bool
}

// The DeciderFunc type is an adapter to allow the use of ordinary
// functions as retry deciders. It implements the Decider interface, and
// also provides the logical composition methods And and Or.
//
// Every DeciderFunc must be safe for concurrent use by multiple
// goroutines.
type DeciderFunc func(e *request.Execution) bool

// DefaultDecider re-sends a hop exactly once, and only if its send
// failed on a stale pooled connection.
var DefaultDecider = Times(1).And(StaleConn)

// Never is a decider that never re-sends.
var Never DeciderFunc = func(_ *request.Execution) bool { return false }

// StaleConn is a decider that indicates a re-send if the failed send
// used a reused pooled connection, and the error shows the server had
// torn that connection down (connection reset, broken pipe or aborted
// connection).
var StaleConn DeciderFunc = staleConn

// TransientErr is a decider that indicates a re-send if the current
// error is transient according to transient.Categorize.
//
// TransientErr is broader than StaleConn: it also re-sends after
// refused connections and timeouts, and on fresh connections.
var TransientErr DeciderFunc = transientErr

// Decide returns true if the hop should be sent again, and false
// otherwise.
func (f DeciderFunc) Decide(e *request.Execution) bool {
	return f(e)
}

// And composes two retry deciders into a new decider which returns true
// if both sub-deciders return true, and false otherwise.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// false.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(e *request.Execution) bool {
		return f(e) && g(e)
	}
}

// Or composes two retry deciders into a new decider which returns
// true if either of the two sub-deciders returns true, but false if
// they both return false.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// true.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(e *request.Execution) bool {
		return f(e) || g(e)
	}
}

// Times constructs a retry decider which allows up to n re-sends of
// the same hop. The returned decider returns true while e.Retried is
// less than n, and false otherwise.
func Times(n int) DeciderFunc {
	return func(e *request.Execution) bool {
		return e.Retried < n
	}
}

// Before constructs a retry decider allowing re-sends until a certain
// amount of time has elapsed since the start of the execution. The
// returned decider returns true while the execution duration is less
// than d, and false afterward.
func Before(d time.Duration) DeciderFunc {
	return func(e *request.Execution) bool {
		return e.Duration() < d
	}
}

func staleConn(e *request.Execution) bool {
	return e.ConnReused && transient.Categorize(e.Err) == transient.ConnReset
}

func transientErr(e *request.Execution) bool {
	return transient.Categorize(e.Err) != transient.Not
}
