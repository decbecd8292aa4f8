// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// tunneled reports whether r goes through a CONNECT tunnel that
// net/http does not open by itself. net/http already tunnels https
// through a proxy, so only plain http needs help.
func tunneled(route Route, r *http.Request) bool {
	return route.Proxy != nil && route.Tunnel && r.URL.Scheme == "http"
}

type tunnelKey struct {
	proxy string
	fresh bool
}

// tunnel returns the transport that reaches hosts through a CONNECT
// tunnel opened on proxy. Transports are cached per proxy so tunneled
// connections never share an idle pool with direct or forwarded ones.
func (a *stdAgent) tunnel(proxy *url.URL, fresh bool) *http.Transport {
	key := tunnelKey{proxy: proxy.String(), fresh: fresh}
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tunnels[key]; ok {
		return t
	}
	t := a.t.Clone()
	t.Proxy = nil
	t.DialContext = connectDialer(a.d, proxy, a.t.TLSClientConfig)
	if fresh {
		t.DisableKeepAlives = true
	}
	if a.tunnels == nil {
		a.tunnels = make(map[tunnelKey]*http.Transport)
	}
	a.tunnels[key] = t
	return t
}

func connectDialer(d *net.Dialer, proxy *url.URL, tc *tls.Config) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, proxyAddr(proxy))
		if err != nil {
			return nil, err
		}
		if proxy.Scheme == "https" {
			cfg := tc.Clone()
			if cfg == nil {
				cfg = &tls.Config{}
			}
			cfg.ServerName = proxy.Hostname()
			c := tls.Client(conn, cfg)
			if err = c.HandshakeContext(ctx); err != nil {
				_ = conn.Close()
				return nil, err
			}
			conn = c
		}
		if err = connect(ctx, conn, proxy, addr); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// connect asks the proxy on conn to open a tunnel to addr. Proxy
// credentials go in the CONNECT request and nowhere else.
func connect(ctx context.Context, conn net.Conn, proxy *url.URL, addr string) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := proxy.User; u != nil {
		pass, _ := u.Password()
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(u.Username()+":"+pass)))
	}
	err := req.Write(conn)
	var resp *http.Response
	br := bufio.NewReader(conn)
	if err == nil {
		resp, err = http.ReadResponse(br, req)
	}
	if !stop() {
		return context.Cause(ctx)
	}
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy refused tunnel to %s: %s", addr, resp.Status)
	}
	if br.Buffered() > 0 {
		return errors.New("proxy sent data before the tunnel was established")
	}
	return nil
}

func proxyAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
