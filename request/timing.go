// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import "time"

// Timings holds the instants of one hop as offsets from Start, the
// moment the hop began. An offset that did not occur, such as Lookup
// and Connect on a reused connection, is zero until filled by Phases.
type Timings struct {
	// Start is the wall-clock time the hop began.
	Start time.Time

	Socket        time.Duration // connection obtained
	Lookup        time.Duration // DNS lookup finished
	Connect       time.Duration // TCP connection established
	SecureConnect time.Duration // TLS handshake finished, https only
	Response      time.Duration // first response byte
	End           time.Duration // last response byte
}

// Phases holds the durations derived from Timings.
type Phases struct {
	Wait            time.Duration
	DNS             time.Duration
	TCP             time.Duration
	SecureHandshake time.Duration
	FirstByte       time.Duration
	Download        time.Duration
	Total           time.Duration
}

// Phases fills skipped offsets with the offset before them and
// returns the durations between consecutive instants.
//
// A reused connection skips Lookup and Connect, and a plain connection
// skips SecureConnect, so their phases come out as zero.
func (t *Timings) Phases() Phases {
	if t.Lookup == 0 {
		t.Lookup = t.Socket
	}
	if t.Connect == 0 {
		t.Connect = t.Lookup
	}
	connected := t.Connect
	if t.SecureConnect != 0 {
		connected = t.SecureConnect
	}
	if t.Response == 0 {
		t.Response = connected
	}
	if t.End == 0 {
		t.End = t.Response
	}
	p := Phases{
		Wait:      t.Socket,
		DNS:       t.Lookup - t.Socket,
		TCP:       t.Connect - t.Lookup,
		FirstByte: t.Response - connected,
		Download:  t.End - t.Response,
		Total:     t.End,
	}
	if t.SecureConnect != 0 {
		p.SecureHandshake = t.SecureConnect - t.Connect
	}
	return p
}
