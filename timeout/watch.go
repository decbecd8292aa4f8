// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"sync"
	"time"

	"github.com/gogama/hopx/failure"
)

// A Watch runs the timers of one hop. It is driven from httptrace
// callbacks and the body reader, so its methods may be called from any
// goroutine.
//
// Only one timer runs at a time. The connect timer is armed when a new
// connection starts dialing and fires with a *failure.TimeoutError whose
// Connect field is true. The idle timer is armed when a reused
// connection is obtained or response headers arrive, is pushed back by
// each sign of progress, and fires with a *failure.TimeoutError whose
// Connect field is false.
//
// A Watch fires at most once and never after Stop.
type Watch struct {
	d      time.Duration
	expire func(error)

	mu      sync.Mutex
	timer   *time.Timer
	gen     int
	connect bool
	done    bool
}

// NewWatch creates a watch for timeout d. When a timer fires, expire is
// called on the timer's goroutine with the timeout error. If d is not
// positive, the watch never fires.
func NewWatch(d time.Duration, expire func(error)) *Watch {
	return &Watch{d: d, expire: expire}
}

// Dialing arms the connect timer, unless it is already running. A
// running idle timer is replaced, as a resend may dial after an attempt
// that got a reused connection.
func (w *Watch) Dialing() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || !w.connect {
		w.arm(true)
	}
}

// Reused arms the idle timer for a connection obtained from the pool.
func (w *Watch) Reused() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.arm(false)
}

// Headers switches from the connect timer to the idle timer.
func (w *Watch) Headers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.arm(false)
}

// Progress pushes back the idle timer. It does not affect the connect
// timer.
func (w *Watch) Progress() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && !w.connect {
		w.arm(false)
	}
}

// Stop clears the running timer. The watch cannot be re-armed.
func (w *Watch) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	w.clear()
}

func (w *Watch) arm(connect bool) {
	if w.done || w.d <= 0 {
		return
	}
	w.clear()
	w.gen++
	gen := w.gen
	w.connect = connect
	w.timer = time.AfterFunc(w.d, func() {
		w.fire(gen, connect)
	})
}

func (w *Watch) clear() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watch) fire(gen int, connect bool) {
	w.mu.Lock()
	if w.done || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.done = true
	w.timer = nil
	w.mu.Unlock()
	w.expire(&failure.TimeoutError{Connect: connect})
}
