// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cookie adapts a net/http cookie jar to request.CookieJar.
package cookie

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/gogama/hopx/request"

	"golang.org/x/net/publicsuffix"
)

// Jar is a request.CookieJar backed by an http.CookieJar. It is safe
// for concurrent use if the underlying jar is.
type Jar struct {
	jar http.CookieJar
}

var _ request.CookieJar = (*Jar)(nil)

// NewJar returns an in-memory jar that honors the public suffix list,
// so a response cannot set cookies for a whole top-level domain.
func NewJar() *Jar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Jar{jar: jar}
}

// Wrap adapts jar.
func Wrap(jar http.CookieJar) *Jar {
	return &Jar{jar: jar}
}

// Jar returns the underlying jar.
func (j *Jar) Jar() http.CookieJar {
	return j.jar
}

// CookieString returns the cookies to send to u, formatted as a Cookie
// header value.
func (j *Jar) CookieString(ctx context.Context, u *url.URL) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cookies := j.jar.Cookies(u)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(parts, "; "), nil
}

// SetCookie parses one Set-Cookie header value and stores the cookie
// for u.
func (j *Jar) SetCookie(ctx context.Context, raw string, u *url.URL) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := http.ParseSetCookie(raw)
	if err != nil {
		return err
	}
	j.jar.SetCookies(u, []*http.Cookie{c})
	return nil
}
