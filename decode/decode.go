// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package decode turns a raw response body into the bytes a caller
// sees: it counts the bytes that came off the wire, undoes the content
// encoding, enforces a size limit, and converts the result to text.
package decode

import (
	"errors"
	"io"
	"strings"

	"github.com/gogama/hopx/failure"
)

// Options selects which content encodings are undone. Gzip covers both
// gzip and deflate.
type Options struct {
	Gzip   bool
	Brotli bool
	Zstd   bool
}

// Enabled reports whether any decompression is enabled.
func (o Options) Enabled() bool {
	return o.Gzip || o.Brotli || o.Zstd
}

// AcceptEncoding returns the Accept-Encoding request header value that
// advertises the enabled encodings, or the empty string.
func (o Options) AcceptEncoding() string {
	var list []string
	if o.Gzip {
		list = append(list, "gzip", "deflate")
	}
	if o.Brotli {
		list = append(list, "br")
	}
	if o.Zstd {
		list = append(list, "zstd")
	}
	return strings.Join(list, ", ")
}

// NoBody reports whether a response to method with the given status
// code carries no body.
func NoBody(method string, status int) bool {
	return method == "HEAD" ||
		(status >= 100 && status < 200) ||
		status == 204 ||
		status == 304
}

// A Counter counts the bytes read through it.
type Counter struct {
	R io.Reader
	N int64
}

func (c *Counter) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

// A Pipeline reads a response body through the byte counter and, if
// applicable, a decompressor.
type Pipeline struct {
	body    io.ReadCloser
	counter *Counter
	r       io.Reader
	closer  io.Closer

	// Encoding is the content encoding being undone, or empty.
	Encoding string
	// Ignored is an unrecognized content encoding that was passed
	// through unchanged.
	Ignored string
}

// NewPipeline builds the pipeline for a response body. contentEncoding
// is the raw Content-Encoding header value.
func NewPipeline(body io.ReadCloser, method string, status int, contentEncoding string, o Options) *Pipeline {
	counter := &Counter{R: body}
	p := &Pipeline{body: body, counter: counter, r: counter}
	if !o.Enabled() || NoBody(method, status) {
		return p
	}

	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	if enc == "" {
		enc = "identity"
	}
	var d decompressor
	switch {
	case o.Gzip && (enc == "gzip" || enc == "x-gzip"):
		d = newGzip(counter)
	case o.Gzip && enc == "deflate":
		d = newDeflate(counter)
	case o.Brotli && enc == "br":
		d = newBrotli(counter)
	case o.Zstd && enc == "zstd":
		d = newZstd(counter)
	default:
		if enc != "identity" {
			p.Ignored = enc
		}
		return p
	}
	p.Encoding = enc
	p.r = &lenient{r: d}
	p.closer = d
	return p
}

// Read reads decoded bytes.
func (p *Pipeline) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Close releases the decompressor and closes the body.
func (p *Pipeline) Close() error {
	if p.closer != nil {
		_ = p.closer.Close()
	}
	return p.body.Close()
}

// Downloaded returns the raw bytes read from the body so far.
func (p *Pipeline) Downloaded() int64 {
	return p.counter.N
}

// lenient ends a truncated compressed stream cleanly, keeping what was
// decoded before the truncation.
type lenient struct {
	r io.Reader
}

func (l *lenient) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

// A Limit enforces a maximum decoded body size.
type Limit struct {
	max       int64
	remaining int64
}

// NewLimit returns a limit of max bytes. A max of zero or less means
// no limit, and a nil *Limit is returned.
func NewLimit(max int64) *Limit {
	if max <= 0 {
		return nil
	}
	return &Limit{max: max, remaining: max}
}

// Take accounts for n more decoded bytes. It fails with a
// *failure.ResponseTooLargeError once the total exceeds the maximum.
func (l *Limit) Take(n int) error {
	if l == nil {
		return nil
	}
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return &failure.ResponseTooLargeError{Limit: l.max}
	}
	return nil
}
