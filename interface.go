// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package hopx

import (
	"net/url"

	"github.com/gogama/hopx/request"
)

// Doer executes request plans. Do runs a plan through every hop it
// takes and returns the execution it ends with, together with an error
// if it failed. Client is the reference Doer; other implementations
// should return the same kinds of errors and fill in the execution the
// same way.
//
// Inflate turns any Doer into an Executor.
type Doer interface {
	Do(p *request.Plan) (*request.Execution, error)
}

// Getter issues a GET to a URL and returns the final execution. Get
// emulates a Getter with any Doer.
type Getter interface {
	Get(url string) (*request.Execution, error)
}

// Header issues a HEAD to a URL and returns the final execution. Head
// emulates a Header with any Doer.
type Header interface {
	Head(url string) (*request.Execution, error)
}

// Poster issues a POST to a URL and returns the final execution. Post
// emulates a Poster with any Doer.
//
// The body may be nil, or any type accepted by request.NewPlan. An
// io.Reader body is streamed once, so a redirect that keeps the POST
// method sends the next hop without it.
type Poster interface {
	Post(url, contentType string, body interface{}) (*request.Execution, error)
}

// FormPoster issues a POST of URL-encoded form data, with the content
// type application/x-www-form-urlencoded. PostForm emulates a
// FormPoster with any Doer.
type FormPoster interface {
	PostForm(url string, data url.Values) (*request.Execution, error)
}

// IdleCloser closes the keep-alive connections its agents hold without
// touching connections in use. Implementations that keep no
// connections do nothing.
type IdleCloser interface {
	CloseIdleConnections()
}

// Executor is the full method set of Client minus Start.
type Executor interface {
	Doer
	Getter
	Header
	Poster
	FormPoster
	IdleCloser
}

// Get issues a GET to url through d.
func Get(d Doer, url string) (*request.Execution, error) {
	return do(d, "GET", url, nil)
}

// Head issues a HEAD to url through d.
func Head(d Doer, url string) (*request.Execution, error) {
	return do(d, "HEAD", url, nil)
}

// Post issues a POST to url through d. The Content-Type header is set
// only when contentType is not empty.
func Post(d Doer, url, contentType string, body interface{}) (*request.Execution, error) {
	p, err := request.NewPlan("POST", url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		p.Header.Set("Content-Type", contentType)
	}
	return d.Do(p)
}

// PostForm issues a POST to url through d, with data URL-encoded as
// the body. A nil data posts an empty form.
func PostForm(d Doer, url string, data url.Values) (*request.Execution, error) {
	p, err := request.NewPlan("POST", url, nil)
	if err != nil {
		return nil, err
	}
	p.Form = data
	if p.Form == nil {
		p.Form = map[string][]string{}
	}
	return d.Do(p)
}

func do(d Doer, method, url string, body interface{}) (*request.Execution, error) {
	p, err := request.NewPlan(method, url, body)
	if err != nil {
		return nil, err
	}
	return d.Do(p)
}

// Inflate returns d as an Executor. If d already is one, it is
// returned as is. Otherwise the missing methods are built on d.Do, and
// CloseIdleConnections is forwarded only if d is an IdleCloser.
//
// Inflate panics if d is nil.
func Inflate(d Doer) Executor {
	if d == nil {
		panic("hopx: nil doer")
	}
	if x, ok := d.(Executor); ok {
		return x
	}
	return inflated{d}
}

type inflated struct {
	Doer
}

func (i inflated) Get(url string) (*request.Execution, error) {
	return Get(i.Doer, url)
}

func (i inflated) Head(url string) (*request.Execution, error) {
	return Head(i.Doer, url)
}

func (i inflated) Post(url, contentType string, body interface{}) (*request.Execution, error) {
	return Post(i.Doer, url, contentType, body)
}

func (i inflated) PostForm(url string, data url.Values) (*request.Execution, error) {
	return PostForm(i.Doer, url, data)
}

func (i inflated) CloseIdleConnections() {
	if c, ok := i.Doer.(IdleCloser); ok {
		c.CloseIdleConnections()
	}
}
