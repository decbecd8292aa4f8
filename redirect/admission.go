// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// A Verdict is an admission's answer to a proposed redirect.
type Verdict struct {
	follow   bool
	location string
}

var (
	// Allow follows the redirect.
	Allow = Verdict{follow: true}
	// Deny stops at the current response, which becomes final.
	Deny = Verdict{}
)

// Override follows the redirect, but to location instead of the target
// the response proposed.
func Override(location string) Verdict {
	return Verdict{follow: true, location: location}
}

// Follow reports whether the verdict follows the redirect.
func (v Verdict) Follow() bool {
	return v.follow
}

// Location returns the overriding location, if any.
func (v Verdict) Location() (string, bool) {
	return v.location, v.location != ""
}

// A Future is a verdict that may not be known yet.
type Future interface {
	// Await blocks until the verdict is known or ctx is done. When ctx
	// is done first, Await returns the cause of the cancellation.
	Await(ctx context.Context) (Verdict, error)
}

// A Promise is a Future settled by calling Resolve or Reject. Only the
// first settlement counts. The zero value is not usable, use NewPromise.
type Promise struct {
	once sync.Once
	done chan struct{}
	v    Verdict
	err  error
}

// NewPromise returns an unsettled promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve settles the promise with v.
func (p *Promise) Resolve(v Verdict) {
	p.settle(v, nil)
}

// Reject settles the promise with err.
func (p *Promise) Reject(err error) {
	if err == nil {
		err = errors.New("hopx: redirect admission rejected")
	}
	p.settle(Deny, err)
}

func (p *Promise) settle(v Verdict, err error) {
	p.once.Do(func() {
		p.v, p.err = v, err
		close(p.done)
	})
}

// Await waits for the promise to settle.
func (p *Promise) Await(ctx context.Context) (Verdict, error) {
	select {
	case <-p.done:
		return p.v, p.err
	case <-ctx.Done():
		return Deny, context.Cause(ctx)
	}
}

type settled struct {
	v   Verdict
	err error
}

func (s settled) Await(_ context.Context) (Verdict, error) {
	return s.v, s.err
}

type kind int

const (
	admitAll kind = iota
	syncKind
	callbackKind
	asyncKind
)

// An Admission decides whether a proposed redirect is followed. Build
// one with Sync, Callback or Async. The zero value admits everything.
type Admission struct {
	kind     kind
	sync     func(*http.Response) Verdict
	callback func(*http.Response, func(Verdict, error))
	async    func(*http.Response) Future
}

// Sync returns an admission that decides on the spot. A panic in f is
// reported as the admission's error.
func Sync(f func(resp *http.Response) Verdict) Admission {
	return Admission{kind: syncKind, sync: f}
}

// Callback returns an admission that reports its verdict by calling
// done, possibly from another goroutine. Calls after the first are
// ignored.
func Callback(f func(resp *http.Response, done func(Verdict, error))) Admission {
	return Admission{kind: callbackKind, callback: f}
}

// Async returns an admission that hands back a Future.
func Async(f func(resp *http.Response) Future) Admission {
	return Admission{kind: asyncKind, async: f}
}

// Admit normalizes the admission's answer for resp to a Future.
func (a Admission) Admit(resp *http.Response) Future {
	switch a.kind {
	case syncKind:
		return a.admitSync(resp)
	case callbackKind:
		p := NewPromise()
		done := func(v Verdict, err error) {
			if err != nil {
				p.Reject(err)
			} else {
				p.Resolve(v)
			}
		}
		if f := a.admitCallback(resp, done); f != nil {
			return f
		}
		return p
	case asyncKind:
		f, err := a.admitAsync(resp)
		if err != nil {
			return settled{Deny, err}
		}
		if f == nil {
			return settled{Deny, errors.New("hopx: redirect admission returned nil future")}
		}
		return f
	}
	return settled{v: Allow}
}

func (a Admission) admitSync(resp *http.Response) (f Future) {
	defer func() {
		if r := recover(); r != nil {
			f = settled{Deny, panicError(r)}
		}
	}()
	return settled{v: a.sync(resp)}
}

func (a Admission) admitCallback(resp *http.Response, done func(Verdict, error)) (f Future) {
	defer func() {
		if r := recover(); r != nil {
			f = settled{Deny, panicError(r)}
		}
	}()
	a.callback(resp, done)
	return nil
}

func (a Admission) admitAsync(resp *http.Response) (f Future, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return a.async(resp), nil
}

func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("hopx: redirect admission panicked: %w", err)
	}
	return fmt.Errorf("hopx: redirect admission panicked: %v", r)
}
