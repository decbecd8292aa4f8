// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient classifies the errors a hop can end with, so the
// client can tell a stale pooled connection apart from a real failure.
package transient

import (
	"errors"
	"syscall"
)

// A Category is the transience category of a particular error, as
// reported by function Categorize().
//
// The category Not means the error is not transient from the perspective
// of completing a hop, or in other words that sending the hop again is
// very unlikely to succeed.
//
// All other categories indicate the error is transient, and that sending
// the hop again on a fresh connection has some prospect of success.
type Category int

const (
	// Not indicates any non-transient error.
	Not Category = iota
	// Timeout indicates a client-side timeout, either while connecting
	// or while the socket sat idle.
	//
	// Function Categorize() will return Timeout if the error or any of
	// its wrapped causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection, and
	// corresponds to the POSIX error code ECONNREFUSED.
	//
	// Function Categorize() will return ConnRefused if the error is not
	// a Timeout, and the error or any of its wrapped causes is equal to
	// syscall.ECONNREFUSED.
	ConnRefused
	// ConnReset indicates the remote end tore down a connection that
	// was previously usable. This is the signature of a pooled
	// keep-alive connection the server closed while it sat idle.
	//
	// Function Categorize() will return ConnReset if the error is not a
	// Timeout, and the error or any of its wrapped causes is equal to
	// syscall.ECONNRESET, syscall.EPIPE or syscall.ECONNABORTED.
	ConnReset
)

var names = []string{"Not", "Timeout", "ConnRefused", "ConnReset"}

// String returns the name of the category.
func (c Category) String() string {
	if c < 0 || int(c) >= len(names) {
		return "Category(?)"
	}
	return names[c]
}

// Categorize returns the transience category of the given error. A nil
// error, and an error that is not transient, both produce Not.
//
// In assessing transience, Categorize looks at wrapped cause errors
// contained within err, not just err itself. It never checks
// Temporary(), as the semantics of Temporary() aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.EPIPE, syscall.ECONNABORTED:
			return ConnReset
		case syscall.ECONNREFUSED:
			return ConnRefused
		}
	}

	return Not
}

type hasTimeout interface {
	Timeout() bool
}
