// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package pool keeps agents for reuse across hops, keyed by the
// settings that make two agents interchangeable.
package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/hopx/agent"
)

// A Key identifies the agents that can be shared. Two hops whose keys
// render to the same string share an agent.
type Key struct {
	Version agent.Version
	Scheme  string
	// Kind is the caller's agent discriminator.
	Kind string
	// TLS holds the rendered TLS settings, in a fixed order. It is
	// empty unless the hop is secure.
	TLS []string
}

// NewKey builds the key of a hop. The TLS options only take part when
// secure is true, which is the case when the target or the proxy
// speaks https.
func NewKey(v agent.Version, scheme, kind string, opts *agent.TLSOptions, secure bool) Key {
	if v == "" {
		v = agent.HTTP1
	}
	k := Key{Version: v, Scheme: scheme, Kind: kind}
	if secure && opts != nil {
		k.TLS = tlsParts(opts)
	}
	return k
}

func tlsParts(o *agent.TLSOptions) []string {
	var parts []string
	if len(o.CA) > 0 {
		parts = append(parts, "ca="+digest(o.CA))
	}
	if o.RejectUnauthorized != nil {
		parts = append(parts, "rejectUnauthorized="+strconv.FormatBool(*o.RejectUnauthorized))
	}
	if len(o.Cert) > 0 && len(o.Key) > 0 {
		parts = append(parts, "cert="+digest(o.Cert), "key="+digest(o.Key))
	}
	if len(o.PFX) > 0 {
		parts = append(parts, "pfx="+digest(o.PFX))
	}
	if o.Passphrase != "" {
		parts = append(parts, "passphrase="+digest([]byte(o.Passphrase)))
	}
	if o.Ciphers != "" {
		parts = append(parts, "ciphers="+o.Ciphers)
	}
	if o.SecureProtocol != "" {
		parts = append(parts, "secureProtocol="+o.SecureProtocol)
	}
	if o.SecureOptions != 0 {
		parts = append(parts, "secureOptions="+strconv.FormatInt(o.SecureOptions, 10))
	}
	return parts
}

// Key material is hashed so it never shows up in rendered keys.
func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// String renders the key as version:scheme:kind[:tls...].
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Version))
	b.WriteByte(':')
	b.WriteString(k.Scheme)
	b.WriteByte(':')
	b.WriteString(k.Kind)
	for _, p := range k.TLS {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// An Entry is an agent held by a Registry, or handed out directly when
// the hop is not pooled.
type Entry struct {
	Agent agent.Agent
	// Key is the rendered pool key, or empty if the entry is not
	// registered.
	Key string
	// Dedicated is true if the agent belongs to a single hop, whose
	// owner must close its idle connections when the hop ends.
	Dedicated bool

	lastUsedAt atomic.Int64
}

// LastUsedAt returns the last time the entry was acquired.
func (e *Entry) LastUsedAt() time.Time {
	return time.Unix(0, e.lastUsedAt.Load())
}

func (e *Entry) touch(t time.Time) *Entry {
	e.lastUsedAt.Store(t.UnixNano())
	return e
}

// A Spec describes the agent a hop needs.
type Spec struct {
	Key    Key
	Module agent.Module
	Config agent.Config
	// IdleTimeout replaces a registered entry that was last used longer
	// ago than this. Zero disables eviction.
	IdleTimeout time.Duration
	// Shared is true if the registry is the client's default registry.
	Shared bool
	// Plain is true if the hop carries no agent or TLS options.
	Plain bool
}

// A Registry maps pool keys to agents. The zero value is not usable,
// use NewRegistry. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Acquire returns the entry for s, building an agent with the spec's
// module if there is none or the existing one has gone idle for too
// long.
//
// When the registry is shared, the hop is plain and no idle timeout is
// set, the module's default agent is returned without registering it.
func (r *Registry) Acquire(s Spec) (*Entry, error) {
	if s.Shared && s.Plain && s.IdleTimeout <= 0 {
		if a := s.Module.DefaultAgent(s.Config.Scheme); a != nil {
			return (&Entry{Agent: a}).touch(r.now()), nil
		}
	}

	key := s.Key.String()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[key]
	if e != nil && s.IdleTimeout > 0 && now.Sub(e.LastUsedAt()) > s.IdleTimeout {
		e.Agent.CloseIdleConnections()
		e = nil
	}
	if e == nil {
		a, err := s.Module.NewAgent(s.Config)
		if err != nil {
			return nil, err
		}
		e = &Entry{Agent: a, Key: key}
		r.entries[key] = e
	}
	return e.touch(now), nil
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseIdleConnections closes the idle connections of every registered
// agent.
func (r *Registry) CloseIdleConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.Agent.CloseIdleConnections()
	}
}

// Dedicated builds an agent for a single hop, outside any registry.
func Dedicated(s Spec) (*Entry, error) {
	a, err := s.Module.NewAgent(s.Config)
	if err != nil {
		return nil, err
	}
	return (&Entry{Agent: a, Dedicated: true}).touch(time.Now()), nil
}
