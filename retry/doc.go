// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry decides when a hop whose send failed is sent again.
//
// The client re-sends a hop on a fresh connection, without reusing any
// pooled connection, when its Decider says so. The default decider,
// DefaultDecider, re-sends exactly once and only after a stale pooled
// connection was torn down by the server. A re-send is not a redirect:
// it does not count toward the redirect limit and no error event fires
// for the failed send.
//
// Deciders compose:
//
//	decider := retry.Times(2).
//	               And(retry.Before(5 * time.Second)).
//	               And(retry.StaleConn.Or(retry.TransientErr))
package retry
