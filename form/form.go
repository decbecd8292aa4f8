// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package form builds multipart request bodies: multipart/form-data
// for form fields and file uploads, and multipart/related for
// pre-assembled parts.
package form

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogama/hopx/failure"
)

// A File is a form value read from a file on disk. The file is opened
// when the body is written, so a File can be sent more than once.
type File struct {
	Path string
}

// A Field is one form-data field. Value is a string, a []byte, a File
// or an io.Reader. An *os.File value is treated as a stream that can be
// re-opened by name.
type Field struct {
	Name  string
	Value interface{}
	// Filename overrides the file name sent for file and stream
	// values. String and []byte values are sent as plain fields unless
	// Filename is set.
	Filename string
	// ContentType overrides the part content type.
	ContentType string
}

// Data is a multipart/form-data body. It tracks whether its body has
// been handed out and how many of its stream fields are still being
// read, so a redirect can tell whether it must be rebuilt.
type Data struct {
	fields   []Field
	boundary string

	mu       sync.Mutex
	released bool
	pending  int
}

// New validates fields and returns a form with a random boundary.
func New(fields []Field) (*Data, error) {
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return nil, &failure.FormEncodingError{Err: fmt.Errorf("field %d has no name", i)}
		}
		switch f.Value.(type) {
		case string, []byte, File, io.Reader:
		default:
			return nil, &failure.FormEncodingError{Field: f.Name, Err: fmt.Errorf("unsupported value type %T", f.Value)}
		}
	}
	return &Data{
		fields:   append([]Field(nil), fields...),
		boundary: multipart.NewWriter(io.Discard).Boundary(),
	}, nil
}

// Fields returns the fields of the form.
func (d *Data) Fields() []Field {
	return append([]Field(nil), d.fields...)
}

// Boundary returns the multipart boundary.
func (d *Data) Boundary() string {
	return d.boundary
}

// ContentType returns the Content-Type header value of the body.
func (d *Data) ContentType() string {
	return "multipart/form-data; boundary=" + d.boundary
}

// Length returns the encoded length of the body. The boolean is false
// if a stream field has no knowable size.
func (d *Data) Length() (int64, bool) {
	cw := &countWriter{}
	w := multipart.NewWriter(cw)
	if err := w.SetBoundary(d.boundary); err != nil {
		return 0, false
	}
	for i := range d.fields {
		f := &d.fields[i]
		if _, err := w.CreatePart(partHeader(f)); err != nil {
			return 0, false
		}
		n, ok := valueSize(f.Value)
		if !ok {
			return 0, false
		}
		cw.n += n
	}
	if err := w.Close(); err != nil {
		return 0, false
	}
	return cw.n, true
}

// Reader returns the encoded body. The form is marked released, and
// each stream field counts as pending until it has been copied in
// full. Closing the reader stops the encoding.
func (d *Data) Reader() io.ReadCloser {
	d.mu.Lock()
	d.released = true
	d.pending = 0
	for i := range d.fields {
		if isStream(d.fields[i].Value) {
			d.pending++
		}
	}
	d.mu.Unlock()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(d.write(pw))
	}()
	return pr
}

// Reusable reports whether the body has been handed out and every
// stream field consumed, which is when a redirect must rebuild the
// form before sending it again.
func (d *Data) Reusable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released && d.pending == 0
}

// Rebuild returns a fresh form with the same fields and a new
// boundary. *os.File values are re-opened by name when written. Other
// stream values cannot be replayed and are dropped.
func (d *Data) Rebuild() (*Data, error) {
	fields := make([]Field, 0, len(d.fields))
	for _, f := range d.fields {
		switch v := f.Value.(type) {
		case *os.File:
			if f.Filename == "" {
				f.Filename = filepath.Base(v.Name())
			}
			f.Value = File{Path: v.Name()}
		case string, []byte, File:
		default:
			continue
		}
		fields = append(fields, f)
	}
	return New(fields)
}

func (d *Data) write(w io.Writer) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(d.boundary); err != nil {
		return &failure.FormEncodingError{Err: err}
	}
	for i := range d.fields {
		f := &d.fields[i]
		part, err := mw.CreatePart(partHeader(f))
		if err != nil {
			return &failure.FormEncodingError{Field: f.Name, Err: err}
		}
		if err = copyValue(part, f.Value); err != nil {
			return &failure.FormEncodingError{Field: f.Name, Err: err}
		}
		if isStream(f.Value) {
			d.mu.Lock()
			d.pending--
			d.mu.Unlock()
		}
	}
	if err := mw.Close(); err != nil {
		return &failure.FormEncodingError{Err: err}
	}
	return nil
}

func copyValue(w io.Writer, v interface{}) error {
	switch x := v.(type) {
	case string:
		_, err := io.WriteString(w, x)
		return err
	case []byte:
		_, err := w.Write(x)
		return err
	case File:
		f, err := os.Open(x.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	case io.Reader:
		_, err := io.Copy(w, x)
		return err
	}
	return errors.New("unsupported value")
}

func isStream(v interface{}) bool {
	switch v.(type) {
	case string, []byte, File:
		return false
	}
	return true
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func partHeader(f *Field) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	name := filename(f)
	if name == "" {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(f.Name)))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		return h
	}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(f.Name), quoteEscaper.Replace(name)))
	ct := f.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(name))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	return h
}

func filename(f *Field) string {
	if f.Filename != "" {
		return f.Filename
	}
	switch v := f.Value.(type) {
	case File:
		return filepath.Base(v.Path)
	case *os.File:
		return filepath.Base(v.Name())
	}
	return ""
}

type lener interface {
	Len() int
}

// Size reports the length of a body or form value. The boolean is false
// if the length cannot be known without reading.
func Size(v interface{}) (int64, bool) {
	return valueSize(v)
}

func valueSize(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case string:
		return int64(len(x)), true
	case []byte:
		return int64(len(x)), true
	case File:
		fi, err := os.Stat(x.Path)
		if err != nil {
			return 0, false
		}
		return fi.Size(), true
	case *os.File:
		fi, err := x.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			return 0, false
		}
		pos, err := x.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return fi.Size() - pos, true
	case lener:
		return int64(x.Len()), true
	}
	return 0, false
}

type countWriter struct {
	n int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// A Part is one part of a multipart/related body. Body is a string, a
// []byte or an io.Reader.
type Part struct {
	Header map[string]string
	Body   interface{}
}

// Multipart is a multipart/related body.
type Multipart struct {
	Parts []Part
	// Buffered, if true, assembles the body in memory so its length is
	// known. Otherwise the body is streamed with chunked encoding.
	Buffered bool
}

// Build encodes the parts. contentType is the request's current
// Content-Type header, which decides the boundary and the returned
// header value. The returned length is -1 if the body is streamed.
func (m *Multipart) Build(contentType string) (string, io.Reader, int64, error) {
	for i := range m.Parts {
		if m.Parts[i].Body == nil {
			return "", nil, 0, &failure.FormEncodingError{Err: errors.New("Body attribute missing in multipart.")}
		}
	}

	boundary := multipart.NewWriter(io.Discard).Boundary()
	switch {
	case contentType == "":
		contentType = "multipart/related; boundary=" + boundary
	case strings.Contains(contentType, "boundary="):
		_, params, err := mime.ParseMediaType(contentType)
		if err == nil && params["boundary"] != "" {
			boundary = params["boundary"]
		}
	default:
		contentType += "; boundary=" + boundary
	}

	if m.Buffered {
		var buf bytes.Buffer
		if err := m.write(&buf, boundary); err != nil {
			return "", nil, 0, err
		}
		return contentType, &buf, int64(buf.Len()), nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(m.write(pw, boundary))
	}()
	return contentType, pr, -1, nil
}

func (m *Multipart) write(w io.Writer, boundary string) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return &failure.FormEncodingError{Err: err}
	}
	for _, p := range m.Parts {
		h := make(textproto.MIMEHeader, len(p.Header))
		for k, v := range p.Header {
			h.Set(k, v)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			return &failure.FormEncodingError{Err: err}
		}
		if err = copyValue(part, p.Body); err != nil {
			return &failure.FormEncodingError{Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return &failure.FormEncodingError{Err: err}
	}
	return nil
}
