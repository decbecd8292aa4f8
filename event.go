// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package hopx

// An Event identifies the event type when installing or running a
// Handler. Install event handlers in a Client to extend it with custom
// functionality.
//
// All events of one execution fire on the goroutine running it, in the
// order they are declared below, with BeforeHop through BeforeRedirect
// repeating for each hop. Exactly one of AfterError and AfterComplete
// fires per execution. AfterAbort fires before AfterError when the
// execution was aborted.
type Event int

const (
	// BeforeExecutionStart identifies the event that occurs before the
	// plan execution starts.
	//
	// When Client fires BeforeExecutionStart, the execution is
	// non-nil but the only field that has been set is the plan.
	BeforeExecutionStart Event = iota
	// BeforeHop identifies the event that occurs before each hop is
	// sent, once the hop's agent is bound and its cookies and body
	// headers are set.
	//
	// BeforeHop handlers may change the header of the execution's
	// State, thus changing the request that will be sent. A hop that is
	// re-sent on a fresh connection after a stale pooled connection
	// failed does not fire BeforeHop again.
	BeforeHop
	// AfterSocket identifies the event that occurs after the hop has
	// been given a connection, either a new one or one from the pool.
	//
	// When Client fires AfterSocket, the execution's ConnReused field
	// tells which.
	AfterSocket
	// AfterRequestWritten identifies the event that occurs after the
	// hop's request, including its body, has been written.
	AfterRequestWritten
	// BeforeRedirect identifies the event that occurs when a redirect
	// or an authentication re-send has been admitted.
	//
	// When Client fires BeforeRedirect, the execution's State is the
	// next hop, its Response is the response being followed, and its
	// Redirects field ends with the redirect being followed.
	BeforeRedirect
	// AfterResponse identifies the event that occurs when the final
	// response has been received, before its body is read.
	AfterResponse
	// OnData identifies the event that occurs for each chunk of the
	// final response body, after decompression.
	//
	// When Client fires OnData, the execution's Chunk field holds the
	// chunk. Handlers must not keep a reference to it.
	OnData
	// AfterBodyEnd identifies the event that occurs after the final
	// response body has been fully read, before text and JSON decoding.
	AfterBodyEnd
	// AfterAbort identifies the event that occurs when an aborted
	// execution ends.
	AfterAbort
	// AfterError identifies the event that occurs when the execution
	// ends in error.
	//
	// When Client fires AfterError, the execution's Err field is set.
	AfterError
	// AfterComplete identifies the event that occurs when the execution
	// ends successfully.
	AfterComplete
	// AfterExecutionEnd identifies the event that occurs after the plan
	// execution ends, whatever the outcome.
	//
	// When Client fires AfterExecutionEnd, the execution's End field is
	// set and no field will change again.
	AfterExecutionEnd
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events types as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"BeforeExecutionStart",
	"BeforeHop",
	"AfterSocket",
	"AfterRequestWritten",
	"BeforeRedirect",
	"AfterResponse",
	"OnData",
	"AfterBodyEnd",
	"AfterAbort",
	"AfterError",
	"AfterComplete",
	"AfterExecutionEnd",
}

// Events returns a slice containing all events which can occur in a
// plan execution by Client, in the order in which they would occur.
func Events() []Event {
	return []Event{
		BeforeExecutionStart,
		BeforeHop,
		AfterSocket,
		AfterRequestWritten,
		BeforeRedirect,
		AfterResponse,
		OnData,
		AfterBodyEnd,
		AfterAbort,
		AfterError,
		AfterComplete,
		AfterExecutionEnd,
	}
}

// Name returns the name of the event.
func (evt Event) Name() string {
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}
