// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package hopx

import (
	"github.com/gogama/hopx/request"
)

// A HandlerGroup is a group of event handler chains which can be
// installed in a Client. The zero value is an empty group ready to use.
//
// A HandlerGroup is not safe to modify while a Client using it is
// running executions.
type HandlerGroup struct {
	chains [numEvents][]Handler
}

// PushBack adds an event handler to the back of the event handler chain
// for a specific event type.
func (g *HandlerGroup) PushBack(evt Event, h Handler) {
	if h == nil {
		panic("hopx: nil handler")
	}
	if evt < 0 || evt >= eventSentinel {
		panic("hopx: unknown event")
	}

	g.chains[evt] = append(g.chains[evt], h)
}

// Len returns the number of handlers in the chain for one event type.
func (g *HandlerGroup) Len(evt Event) int {
	if g == nil || evt < 0 || evt >= eventSentinel {
		return 0
	}
	return len(g.chains[evt])
}

func (g *HandlerGroup) run(evt Event, e *request.Execution) {
	if g == nil {
		return
	}
	for _, h := range g.chains[evt] {
		h.Handle(evt, e)
	}
}

// A Handler handles the occurrence of an event during a request plan
// execution.
type Handler interface {
	Handle(Event, *request.Execution)
}

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as event handlers. If f is a function with appropriate
// signature, then HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(Event, *request.Execution)

// Handle calls f(evt, e).
func (f HandlerFunc) Handle(evt Event, e *request.Execution) {
	f(evt, e)
}
