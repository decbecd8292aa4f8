// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package hopx

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/gogama/hopx/request"
	"github.com/gogama/hopx/timeout"
)

// A tracer collects the timings of one hop and the events the agent
// reports from its own goroutines. Events are queued and dispatched by
// flush on the goroutine running the execution.
type tracer struct {
	watch *timeout.Watch

	mu     sync.Mutex
	t      request.Timings
	reused bool
	queue  []Event
}

func newTracer(watch *timeout.Watch) *tracer {
	return &tracer{
		watch: watch,
		t:     request.Timings{Start: time.Now()},
	}
}

func (tr *tracer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			tr.watch.Dialing()
			tr.socket()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			tr.mark(&tr.t.Lookup)
		},
		ConnectStart: func(_, _ string) {
			tr.watch.Dialing()
			tr.socket()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				tr.mark(&tr.t.Connect)
			}
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				tr.mark(&tr.t.SecureConnect)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				tr.watch.Reused()
			}
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.reused = info.Reused
			if tr.t.Socket == 0 {
				tr.t.Socket = tr.since()
			}
			tr.queue = append(tr.queue, AfterSocket)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				return
			}
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.queue = append(tr.queue, AfterRequestWritten)
		},
		GotFirstResponseByte: func() {
			tr.mark(&tr.t.Response)
		},
	}
}

func (tr *tracer) since() time.Duration {
	d := time.Since(tr.t.Start)
	if d <= 0 {
		d = 1
	}
	return d
}

func (tr *tracer) socket() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.t.Socket == 0 {
		tr.t.Socket = tr.since()
	}
}

func (tr *tracer) mark(d *time.Duration) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	*d = tr.since()
}

// connReused reports whether the last connection obtained was reused.
func (tr *tracer) connReused() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.reused
}

// drain empties the event queue.
func (tr *tracer) drain() []Event {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	q := tr.queue
	tr.queue = nil
	return q
}

// end marks the last response byte and returns the hop timings.
func (tr *tracer) end() request.Timings {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.t.End = tr.since()
	return tr.t
}
