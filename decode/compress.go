// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package decode

import (
	"bufio"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

type decompressor interface {
	io.ReadCloser
}

// lazy defers building a decompressor until the first Read, so an
// empty body never fails on a missing header.
type lazy struct {
	src  io.Reader
	init func(io.Reader) (io.Reader, func() error, error)
	r    io.Reader
	done func() error
	err  error
}

func (z *lazy) Read(p []byte) (int, error) {
	if z.err != nil {
		return 0, z.err
	}
	if z.r == nil {
		r, done, err := z.init(z.src)
		if err != nil {
			z.err = err
			return 0, err
		}
		z.r, z.done = r, done
	}
	return z.r.Read(p)
}

func (z *lazy) Close() error {
	if z.done != nil {
		return z.done()
	}
	return nil
}

func newGzip(src io.Reader) decompressor {
	return &lazy{src: src, init: func(r io.Reader) (io.Reader, func() error, error) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	}}
}

// newDeflate accepts both zlib wrapped and raw deflate streams, since
// servers disagree on what deflate means.
func newDeflate(src io.Reader) decompressor {
	return &lazy{src: src, init: func(r io.Reader) (io.Reader, func() error, error) {
		br := bufio.NewReader(r)
		head, err := br.Peek(2)
		if err != nil && len(head) == 0 {
			return nil, nil, err
		}
		if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, nil, err
			}
			return zr, zr.Close, nil
		}
		fr := flate.NewReader(br)
		return fr, fr.Close, nil
	}}
}

func newBrotli(src io.Reader) decompressor {
	return &lazy{src: src, init: func(r io.Reader) (io.Reader, func() error, error) {
		return brotli.NewReader(r), nil, nil
	}}
}

func newZstd(src io.Reader) decompressor {
	return &lazy{src: src, init: func(r io.Reader) (io.Reader, func() error, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error { zr.Close(); return nil }, nil
	}}
}
