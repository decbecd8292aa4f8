// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"errors"
	"io"

	"github.com/gogama/hopx/failure"
	"github.com/gogama/hopx/form"
)

// A source supplies the body of a hop.
type source interface {
	// open returns the body reader for one send.
	open() (io.ReadCloser, error)
	// size returns the body length, if it is known without reading.
	size() (int64, bool)
	// rewindable reports whether open can be called again.
	rewindable() bool
}

// newSource converts a plan body. Empty bodies produce nil.
func newSource(body interface{}) (source, error) {
	switch x := body.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		return &memSource{chunks: [][]byte{[]byte(x)}}, nil
	case []byte:
		if len(x) == 0 {
			return nil, nil
		}
		return &memSource{chunks: [][]byte{x}}, nil
	case [][]byte:
		m := &memSource{chunks: x}
		if n, _ := m.size(); n == 0 {
			return nil, nil
		}
		return m, nil
	case io.Reader:
		return &streamSource{r: x}, nil
	}
	return nil, &failure.ConfigError{Field: "body", Err: errors.New(badBodyTypeMsg)}
}

type memSource struct {
	chunks [][]byte
}

func (m *memSource) open() (io.ReadCloser, error) {
	readers := make([]io.Reader, len(m.chunks))
	for i, c := range m.chunks {
		readers[i] = bytes.NewReader(c)
	}
	return io.NopCloser(io.MultiReader(readers...)), nil
}

func (m *memSource) size() (int64, bool) {
	var n int64
	for _, c := range m.chunks {
		n += int64(len(c))
	}
	return n, true
}

func (m *memSource) rewindable() bool {
	return true
}

var errStreamUsed = errors.New("hopx/request: body stream already sent")

type streamSource struct {
	r    io.Reader
	used bool
}

func (s *streamSource) open() (io.ReadCloser, error) {
	if s.used {
		return nil, &failure.ConfigError{Field: "body", Err: errStreamUsed}
	}
	s.used = true
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}

func (s *streamSource) size() (int64, bool) {
	return form.Size(s.r)
}

func (s *streamSource) rewindable() bool {
	return false
}

type formSource struct {
	d *form.Data
}

func (f *formSource) open() (io.ReadCloser, error) {
	return f.d.Reader(), nil
}

func (f *formSource) size() (int64, bool) {
	return f.d.Length()
}

func (f *formSource) rewindable() bool {
	return false
}
