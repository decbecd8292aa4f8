// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogama/hopx/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		for _, body := range []interface{}{nil, "", []byte{}, [][]byte{}, [][]byte{{}, {}}} {
			src, err := newSource(body)
			assert.NoError(t, err)
			assert.Nil(t, src)
		}
	})
	t.Run("memory", func(t *testing.T) {
		src, err := newSource([][]byte{[]byte("ab"), nil, []byte("c")})
		require.NoError(t, err)
		n, ok := src.size()
		assert.True(t, ok)
		assert.Equal(t, int64(3), n)
		assert.True(t, src.rewindable())
		for i := 0; i < 2; i++ {
			rc, err := src.open()
			require.NoError(t, err)
			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "abc", string(b))
		}
	})
	t.Run("stream once", func(t *testing.T) {
		src, err := newSource(strings.NewReader("xyz"))
		require.NoError(t, err)
		assert.False(t, src.rewindable())
		n, ok := src.size()
		assert.True(t, ok)
		assert.Equal(t, int64(3), n)
		_, err = src.open()
		require.NoError(t, err)
		_, err = src.open()
		var cfg *failure.ConfigError
		require.ErrorAs(t, err, &cfg)
		assert.ErrorIs(t, err, errStreamUsed)
	})
	t.Run("file size from position", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "body.txt")
		require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		_, err = f.Seek(4, io.SeekStart)
		require.NoError(t, err)
		src, err := newSource(f)
		require.NoError(t, err)
		n, ok := src.size()
		assert.True(t, ok)
		assert.Equal(t, int64(6), n)
		rc, err := src.open()
		require.NoError(t, err)
		assert.Same(t, f, rc)
	})
	t.Run("bad type", func(t *testing.T) {
		_, err := newSource(3.14)
		var cfg *failure.ConfigError
		require.ErrorAs(t, err, &cfg)
		assert.Equal(t, "body", cfg.Field)
	})
}
