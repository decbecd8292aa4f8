// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package decode

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Auto is the Encoding value that sniffs the charset from the
// Content-Type header and the body.
const Auto = "auto"

// Text decodes body to a string using the named encoding. "utf8" and
// "utf-8" strip a leading byte order mark, "binary" and "latin1" read
// ISO 8859-1, and Auto sniffs the charset the way a browser does. Other
// names are looked up as WHATWG labels.
func Text(body []byte, name, contentType string) (string, error) {
	enc, err := lookup(name, body, contentType)
	if err != nil {
		return "", err
	}
	b, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func lookup(name string, body []byte, contentType string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "utf8", "utf-8":
		return unicode.UTF8BOM, nil
	case "binary", "latin1":
		return charmap.ISO8859_1, nil
	case Auto:
		enc, _, _ := charset.DetermineEncoding(body, contentType)
		return enc, nil
	}
	enc, _ := charset.Lookup(name)
	if enc == nil {
		return nil, fmt.Errorf("hopx: unknown encoding %q", name)
	}
	return enc, nil
}

var plainStatus = regexp.MustCompile(`^[\w\s\-']*$`)

// StatusMessage re-decodes the reason phrase of a status line using
// the named encoding. Phrases made only of word characters, spaces,
// hyphens and apostrophes come back unchanged.
func StatusMessage(status, name string) string {
	code, phrase, ok := strings.Cut(status, " ")
	if !ok || plainStatus.MatchString(phrase) {
		return status
	}
	text, err := Text([]byte(phrase), name, "")
	if err != nil {
		return status
	}
	return code + " " + text
}

// JSON parses text as a JSON document. The boolean is false if text is
// not valid JSON.
func JSON(text string) (interface{}, bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}
