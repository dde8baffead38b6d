// Package jsonx provides JSON serialization helpers backed by Sonic.
// It is a drop-in replacement for the subset of encoding/json this
// service uses.
package jsonx

import (
	"bytes"
	"io"

	"github.com/bytedance/sonic"
)

// api is the shared codec: HTML left unescaped, integers decoded as
// int64 rather than float64.
var api = sonic.Config{
	EscapeHTML: false,
	UseInt64:   true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in the
// value pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns the JSON as a string,
// avoiding the []byte-to-string allocation.
func MarshalToString(v interface{}) (string, error) {
	return api.MarshalToString(v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return api.UnmarshalFromString(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// Decoder reads and decodes a JSON value from an input stream.
type Decoder struct {
	reader io.Reader
	buf    *bytes.Buffer
}

// Decode reads the next JSON-encoded value from its input and stores it
// in the value pointed to by v.
func (d *Decoder) Decode(v interface{}) error {
	if d.buf == nil {
		d.buf = &bytes.Buffer{}
	}
	if _, err := io.Copy(d.buf, d.reader); err != nil {
		return err
	}
	return api.Unmarshal(d.buf.Bytes(), v)
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// Encoder writes JSON values to an output stream.
type Encoder struct {
	writer io.Writer
	buf    *bytes.Buffer
}

// Encode writes the JSON encoding of v to the stream, followed by a
// newline character.
func (e *Encoder) Encode(v interface{}) error {
	if e.buf == nil {
		e.buf = &bytes.Buffer{}
	}
	e.buf.Reset()

	data, err := api.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := e.buf.Write(data); err != nil {
		return err
	}
	if _, err := e.buf.WriteRune('\n'); err != nil {
		return err
	}
	_, err = e.writer.Write(e.buf.Bytes())
	return err
}
