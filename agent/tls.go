// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/gogama/hopx/failure"

	"golang.org/x/crypto/pkcs12"
)

// TLSOptions are the client TLS settings of a request. They take part
// in the pool key, so requests with different TLS settings never share
// an agent.
type TLSOptions struct {
	// CA holds PEM encoded certificates trusted as roots instead of the
	// system pool.
	CA []byte
	// Cert and Key are a PEM encoded client certificate and its key.
	// Both or neither must be set.
	Cert []byte
	Key  []byte
	// PFX is a PKCS #12 archive holding a client certificate and key,
	// decrypted with Passphrase.
	PFX        []byte
	Passphrase string
	// Ciphers is a colon or comma separated list of cipher suite names
	// as reported by tls.CipherSuites.
	Ciphers string
	// SecureProtocol pins the TLS version, for example "TLSv1_2_method".
	SecureProtocol string
	// SecureOptions is an opaque bit set. It separates pool keys but
	// has no effect on the handshake.
	SecureOptions int64
	// RejectUnauthorized, if set to false, skips verification of the
	// server certificate.
	RejectUnauthorized *bool
}

// IsZero reports whether o holds no TLS settings.
func (o *TLSOptions) IsZero() bool {
	return len(o.CA) == 0 &&
		len(o.Cert) == 0 &&
		len(o.Key) == 0 &&
		len(o.PFX) == 0 &&
		o.Passphrase == "" &&
		o.Ciphers == "" &&
		o.SecureProtocol == "" &&
		o.SecureOptions == 0 &&
		o.RejectUnauthorized == nil
}

// Config builds a client TLS configuration from o. It returns nil if o
// is zero, and a *failure.ConfigError if a setting is malformed.
func (o *TLSOptions) Config() (*tls.Config, error) {
	if o.IsZero() {
		return nil, nil
	}

	c := &tls.Config{}
	if len(o.CA) > 0 {
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(o.CA) {
			return nil, configError("ca", errors.New("no PEM certificates found"))
		}
		c.RootCAs = roots
	}

	if len(o.Cert) > 0 || len(o.Key) > 0 {
		if len(o.Cert) == 0 || len(o.Key) == 0 {
			return nil, configError("cert", errors.New("cert and key must be given together"))
		}
		pair, err := tls.X509KeyPair(o.Cert, o.Key)
		if err != nil {
			return nil, configError("cert", err)
		}
		c.Certificates = append(c.Certificates, pair)
	}

	if len(o.PFX) > 0 {
		key, leaf, err := pkcs12.Decode(o.PFX, o.Passphrase)
		if err != nil {
			return nil, configError("pfx", err)
		}
		c.Certificates = append(c.Certificates, tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		})
	}

	if o.Ciphers != "" {
		suites, err := cipherSuites(o.Ciphers)
		if err != nil {
			return nil, configError("ciphers", err)
		}
		c.CipherSuites = suites
	}

	if o.SecureProtocol != "" {
		v, ok := secureProtocols[o.SecureProtocol]
		if !ok {
			return nil, configError("secureProtocol", fmt.Errorf("unknown protocol %q", o.SecureProtocol))
		}
		c.MinVersion, c.MaxVersion = v, v
	}

	if o.RejectUnauthorized != nil && !*o.RejectUnauthorized {
		c.InsecureSkipVerify = true
	}

	return c, nil
}

// A zero version leaves the range to crypto/tls.
var secureProtocols = map[string]uint16{
	"TLS_method":     0,
	"SSLv23_method":  0,
	"TLSv1_method":   tls.VersionTLS10,
	"TLSv1_1_method": tls.VersionTLS11,
	"TLSv1_2_method": tls.VersionTLS12,
	"TLSv1_3_method": tls.VersionTLS13,
}

func cipherSuites(list string) ([]uint16, error) {
	byName := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		byName[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		byName[s.Name] = s.ID
	}

	var ids []uint16
	names := strings.FieldsFunc(list, func(r rune) bool { return r == ':' || r == ',' })
	for _, name := range names {
		id, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("empty cipher list")
	}
	return ids, nil
}

func configError(field string, err error) error {
	return &failure.ConfigError{Field: field, Err: err}
}
