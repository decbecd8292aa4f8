// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package failure defines the concrete error types reported by hopx
// when a request execution ends in error.
//
// Errors returned by hopx.Client are always of type *url.Error, but
// the url.Error wraps one of the types in this package, so errors.As
// and errors.Is can be used to find out what went wrong.
package failure

import (
	"errors"
	"fmt"
)

// ErrAborted is the terminal error of an execution that was aborted,
// either by the caller or by an event handler.
var ErrAborted = errors.New("hopx: request aborted")

// An InvalidURIError indicates the request URI is missing, cannot be
// parsed, or has no host.
type InvalidURIError struct {
	// URI is the URI as given, or as produced by a redirect.
	URI string
	// Redirected is true if the invalid URI came from a redirect.
	Redirected bool
	// Err is the underlying parse error, if any.
	Err error
}

func (err *InvalidURIError) Error() string {
	msg := fmt.Sprintf("Invalid URI %q", err.URI)
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	if err.Redirected {
		msg += ". This can be caused by a crappy redirection."
	}
	return msg
}

func (err *InvalidURIError) Unwrap() error {
	return err.Err
}

// A ConfigError indicates a request option that cannot be honored.
type ConfigError struct {
	// Field names the offending option.
	Field string
	// Err describes the problem.
	Err error
}

func (err *ConfigError) Error() string {
	return "hopx: bad " + err.Field + ": " + err.Err.Error()
}

func (err *ConfigError) Unwrap() error {
	return err.Err
}

// A ProtocolUnsupportedError indicates no transport module is
// registered for a scheme and protocol version.
type ProtocolUnsupportedError struct {
	Scheme  string
	Version string
}

func (err *ProtocolUnsupportedError) Error() string {
	return fmt.Sprintf("Invalid protocol: %s: (%s)", err.Scheme, err.Version)
}

// A TooManyRedirectsError indicates the redirect limit was reached.
type TooManyRedirectsError struct {
	// Max is the limit that was exceeded.
	Max int
	// URI is the URI of the hop whose redirect was refused.
	URI string
}

func (err *TooManyRedirectsError) Error() string {
	return "Exceeded maxRedirects. Probably stuck in a redirect loop " + err.URI
}

// A URLParseError indicates a redirect target could not be resolved
// against the current URI.
type URLParseError struct {
	// URI is the current hop URI.
	URI string
	// Location is the redirect target that failed to resolve.
	Location string
	Err      error
}

func (err *URLParseError) Error() string {
	return "Failed to parse url: " + err.URI
}

func (err *URLParseError) Unwrap() error {
	return err.Err
}

// An SSLVerificationError indicates the server certificate could not
// be verified.
type SSLVerificationError struct {
	Err error
}

func (err *SSLVerificationError) Error() string {
	if err.Err == nil {
		return "SSL Error: certificate not verified"
	}
	return "SSL Error: " + err.Err.Error()
}

func (err *SSLVerificationError) Unwrap() error {
	return err.Err
}

// A ResponseTooLargeError indicates the decoded response body grew
// past the configured maximum size.
type ResponseTooLargeError struct {
	Limit int64
}

func (err *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("Maximum response size reached (%d bytes)", err.Limit)
}

// A TimeoutError indicates a hop timed out. Connect is true when the
// timeout fired before response headers arrived on a new connection,
// and false when the connection sat idle for too long.
type TimeoutError struct {
	Connect bool
}

func (err *TimeoutError) Error() string {
	if err.Connect {
		return "ETIMEDOUT"
	}
	return "ESOCKETTIMEDOUT"
}

// Timeout always returns true.
func (err *TimeoutError) Timeout() bool {
	return true
}

// A TransportError wraps a socket, DNS, TLS or protocol failure
// reported by the agent.
type TransportError struct {
	Err error
}

func (err *TransportError) Error() string {
	return err.Err.Error()
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// A FormEncodingError indicates a multipart form body could not be
// built or streamed.
type FormEncodingError struct {
	// Field is the form field being encoded, if known.
	Field string
	Err   error
}

func (err *FormEncodingError) Error() string {
	if err.Field == "" {
		return "form-data: " + err.Err.Error()
	}
	return fmt.Sprintf("form-data: field %q: %v", err.Field, err.Err)
}

func (err *FormEncodingError) Unwrap() error {
	return err.Err
}
