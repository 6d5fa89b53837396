// Package compress implements the coordination wire format's payload
// compression: gzip+base64 above a size threshold, with a
// non-expansion guarantee for incompressible payloads.
package compress

import (
	"bytes"
	"encoding/base64"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
)

// Method names the "compression=" content-type parameter value.
type Method string

const (
	MethodNone Method = ""
	MethodGzip Method = "gzip"
)

// DefaultThreshold is the byte length above which Compress attempts
// gzip compression.
const DefaultThreshold = 10 * 1024

// Compress returns data unchanged with MethodNone if its length is at or
// below threshold, or if gzip+base64 would not shrink it. Otherwise it
// returns the base64-encoded gzip of data with MethodGzip.
func Compress(data []byte, threshold int) ([]byte, Method, error) {
	if len(data) <= threshold {
		return data, MethodNone, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, MethodNone, err
	}
	if err := zw.Close(); err != nil {
		return nil, MethodNone, err
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(encoded, buf.Bytes())

	if len(encoded) >= len(data) {
		// Compression did not help (e.g. already-compact or high-entropy
		// payload); ship the original unchanged rather than inflate it.
		return data, MethodNone, nil
	}
	return encoded, MethodGzip, nil
}

// Decompress is the inverse of Compress. An unrecognized method fails
// with coorderrs.InvalidCompression.
func Decompress(data []byte, method Method) ([]byte, error) {
	switch method {
	case MethodNone:
		return data, nil
	case MethodGzip:
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(decoded, data)
		if err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(bytes.NewReader(decoded[:n]))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, &coorderrs.InvalidCompression{Method: string(method)}
	}
}
