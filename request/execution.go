// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/hopx/failure"
	"github.com/gogama/hopx/redirect"
	"github.com/gogama/hopx/transient"
)

// An Execution represents the state of a single Plan execution.
//
// When a plan execution is requested, an Execution is created for it.
// The same Execution is updated as the execution moves from hop to hop
// and is ultimately returned as the result, so a caller holding it
// always sees the final state.
//
// Event handlers may set values on an Execution using its SetValue
// method and read them back using the Value method. They should treat
// the exported fields as read-only, with the exception of State.Header,
// which BeforeHop handlers may change before the hop is sent.
type Execution struct {
	// Plan specifies the plan being executed. It is never nil.
	Plan *Plan

	// State is the current hop. It is replaced, never modified in
	// place, when a redirect is followed, so a handler that keeps a
	// reference to it sees that hop's state only.
	State *State

	// Phase is the current lifecycle phase.
	Phase Phase

	// Start is the start time of the execution. It is assigned when
	// the execution starts and stays constant thereafter.
	Start time.Time

	// End is the end time of the execution. It contains the zero value
	// until the execution ends.
	End time.Time

	// Redirects lists the redirects and authentication re-sends
	// followed so far, in order.
	Redirects []redirect.Record

	// Request is the HTTP request of the current hop.
	Request *http.Request

	// Response is the HTTP response of the current hop. It is nil
	// until the hop's response headers arrive.
	Response *http.Response

	// ConnReused is true if the current hop was sent on a pooled
	// connection that had been used before.
	ConnReused bool

	// Retried counts the sends of the current hop repeated on a fresh
	// connection after a stale pooled connection failed.
	Retried int

	// Err indicates the error that ended the execution. It is nil until
	// then, and nil for an execution that completed.
	//
	// Whenever Err is non-nil, it has the type *url.Error.
	Err error

	// Encoding is the content encoding undone while decoding the
	// final body, or empty.
	Encoding string

	// Chunk is the decoded body chunk of the current OnData event. It
	// is only valid during the event.
	Chunk []byte

	// Downloaded counts the raw response body bytes received on the
	// final hop, before decompression.
	Downloaded int64

	// Body is the complete decoded body of the final response.
	Body []byte

	// Text is Body decoded with the plan's Encoding, if one is set.
	Text string

	// JSON is the parsed body when the plan asks for JSON. When the
	// body does not parse, JSON holds the raw text instead.
	JSON interface{}

	// Timings holds the timings of the final hop, when the plan asks
	// for them.
	Timings *Timings

	// Phases holds the durations derived from Timings.
	Phases *Phases

	aborted atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelCauseFunc

	data context.Context
}

// Hop returns the zero-based number of the current hop.
func (e *Execution) Hop() int {
	if e.State == nil {
		return 0
	}
	return e.State.Hop
}

// StatusCode returns the status code of the current hop's response. If
// there is no response, 0 is returned.
func (e *Execution) StatusCode() int {
	if e.Response == nil {
		return 0
	}

	return e.Response.StatusCode
}

// Header returns the header of the current hop's response. If there is
// no response, the nil header is returned.
//
// Note that a nil return value is always safe for read-only operations,
// since http.Header is a map type.
func (e *Execution) Header() http.Header {
	if e.Response == nil {
		var nilHeader http.Header
		return nilHeader
	}

	return e.Response.Header
}

// Duration returns the duration of the execution.
//
// If the execution has not yet started, the duration is zero. If the
// execution has Ended, the duration returned is equal to End minus
// Start. Otherwise, it is equal to the current time minus Start.
func (e *Execution) Duration() time.Duration {
	if !e.Started() {
		return time.Duration(0)
	} else if !e.Ended() {
		return time.Since(e.Start)
	}

	return e.End.Sub(e.Start)
}

// Started indicates whether the execution has started.
func (e *Execution) Started() bool {
	return e.Start != (time.Time{})
}

// Ended indicates whether the execution has ended.
//
// If the return value is true, End is a non-zero time and there will be
// no further changes to the execution.
func (e *Execution) Ended() bool {
	return e.End != (time.Time{})
}

// Timeout indicates whether Err contains a timeout.
func (e *Execution) Timeout() bool {
	cat := transient.Categorize(e.Err)
	return cat == transient.Timeout
}

// Abort aborts the execution. The in-flight hop is cancelled, tearing
// down its connection, and no further OnData or AfterBodyEnd events
// fire. The execution ends with failure.ErrAborted unless it has
// already ended.
//
// Abort may be called from any goroutine, any number of times.
func (e *Execution) Abort() {
	if !e.aborted.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel(failure.ErrAborted)
	}
}

// Aborted reports whether Abort has been called.
func (e *Execution) Aborted() bool {
	return e.aborted.Load()
}

// SetCanceler installs the function Abort uses to cancel the in-flight
// hop. If the execution is already aborted, cancel is called at once.
func (e *Execution) SetCanceler(cancel context.CancelCauseFunc) {
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	if cancel != nil && e.aborted.Load() {
		cancel(failure.ErrAborted)
	}
}

// SetValue allows event handlers to store arbitrary data in the
// execution.
//
// The key must follow the same rules as the key parameter in
// context.WithValue, namely it:
//
// • it may not be nil;
//
// • it must be comparable;
//
// • it should not be of type string or any other built-in type to avoid
// collisions between different event handlers putting data into the
// same execution.
func (e *Execution) SetValue(key, value interface{}) {
	ctx := e.data
	if ctx == nil {
		ctx = context.Background()
	}

	e.data = context.WithValue(ctx, key, value)
}

// Value returns the data value associated with this execution for key,
// or nil if there is no value associated with key.
func (e *Execution) Value(key interface{}) interface{} {
	ctx := e.data
	if ctx == nil {
		return nil
	}

	return ctx.Value(key)
}
