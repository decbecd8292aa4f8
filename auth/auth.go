// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth answers HTTP authentication challenges for the client.
//
// Credentials implements request.Authenticator. Depending on how it is
// configured it either sends credentials on the first hop, or waits for
// a 401 response and answers its WWW-Authenticate challenge with Basic,
// Bearer or Digest authorization. A challenge is answered at most once
// per execution.
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gogama/hopx/request"

	"github.com/icholy/digest"
)

// Credentials holds a user name and password, a bearer token, or both.
type Credentials struct {
	User string
	Pass string
	// Bearer is sent as a bearer token when set.
	Bearer string
	// Deferred waits for a 401 challenge instead of sending Basic or
	// Bearer authorization on the first hop. Digest authentication
	// always needs a challenge, so servers that use it should be given
	// deferred credentials.
	Deferred bool
}

var _ request.Authenticator = (*Credentials)(nil)

// Basic returns credentials that send HTTP Basic authorization on the
// first hop.
func Basic(user, pass string) *Credentials {
	return &Credentials{User: user, Pass: pass}
}

// Bearer returns credentials that send a bearer token on the first hop.
func Bearer(token string) *Credentials {
	return &Credentials{Bearer: token}
}

// Digest returns deferred credentials suitable for Digest
// authentication.
func Digest(user, pass string) *Credentials {
	return &Credentials{User: user, Pass: pass, Deferred: true}
}

func (c *Credentials) has() bool {
	return c.User != "" || c.Pass != "" || c.Bearer != ""
}

// Authorize sets the Authorization header of the first hop unless the
// credentials are deferred.
func (c *Credentials) Authorize(s *request.State) error {
	if c.Deferred || !c.has() {
		return nil
	}
	if c.Bearer != "" {
		s.Header.Set("Authorization", bearer(c.Bearer))
	} else {
		s.Header.Set("Authorization", basic(c.User, c.Pass))
	}
	s.AuthSent = true
	return nil
}

// Challenge answers the WWW-Authenticate challenge of a 401 response.
// It returns false if credentials were already sent, or the scheme is
// unknown or cannot be met.
func (c *Credentials) Challenge(resp *http.Response, s *request.State) (string, bool) {
	if !c.has() || s.AuthSent {
		return "", false
	}
	h := resp.Header.Get("WWW-Authenticate")
	verb, _, _ := strings.Cut(h, " ")
	switch strings.ToLower(verb) {
	case "basic":
		return basic(c.User, c.Pass), true
	case "bearer":
		if c.Bearer == "" {
			return "", false
		}
		return bearer(c.Bearer), true
	case "digest":
		chal, err := digest.FindChallenge(resp.Header)
		if err != nil {
			return "", false
		}
		cred, err := digest.Digest(chal, digest.Options{
			Username: c.User,
			Password: c.Pass,
			Method:   s.Method,
			URI:      s.Path,
			GetBody:  s.GetBody(),
			Count:    1,
		})
		if err != nil {
			return "", false
		}
		return cred.String(), true
	}
	return "", false
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func bearer(token string) string {
	return "Bearer " + token
}
