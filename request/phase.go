// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

// Phase is the lifecycle state of an execution.
type Phase int

const (
	// Init is the phase while the current hop is prepared.
	Init Phase = iota
	// BodyPending is the phase while the body length is computed and
	// the hop waits to be sent.
	BodyPending
	// Started is the phase once the hop is handed to the agent.
	Started
	// AwaitingResponse is the phase while the hop is in flight.
	AwaitingResponse
	// ResponseReceived is the phase once response headers arrive.
	ResponseReceived
	// CookieSync is the phase while Set-Cookie values are stored.
	CookieSync
	// RedirectDecision is the phase while the response is checked for
	// a redirect or challenge.
	RedirectDecision
	// Reinit is the phase while the next hop is derived.
	Reinit
	// Decoding is the phase while the final body is read.
	Decoding
	// Complete is the terminal phase of a successful execution.
	Complete
	// Error is the terminal phase of a failed execution.
	Error
	// Aborted is the terminal phase of an aborted execution.
	Aborted
)

var phaseNames = []string{
	"INIT",
	"BODY_PENDING",
	"STARTED",
	"AWAITING_RESPONSE",
	"RESPONSE_RECEIVED",
	"COOKIE_SYNC",
	"REDIRECT_DECISION",
	"REINIT",
	"DECODING",
	"COMPLETE",
	"ERROR",
	"ABORTED",
}

// Terminal reports whether no phase follows ph.
func (ph Phase) Terminal() bool {
	return ph >= Complete
}

func (ph Phase) String() string {
	if ph < 0 || int(ph) >= len(phaseNames) {
		return "Phase(?)"
	}
	return phaseNames[ph]
}
