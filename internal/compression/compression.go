// Package compression provides the pooled stream codecs used on report
// bodies: the reporter encodes with them and the collector decodes.
package compression

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Type is a compression algorithm.
type Type string

const (
	TypeNone    Type = "none"
	TypeGzip    Type = "gzip"
	TypeZstd    Type = "zstd"
	TypeDeflate Type = "deflate"
	TypeSnappy  Type = "snappy"
)

// ErrUnsupported is returned for an unknown algorithm or content encoding.
var ErrUnsupported = errors.New("unsupported compression")

// ParseType parses a configured algorithm name. Empty means none.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeNone, nil
	case TypeNone, TypeGzip, TypeZstd, TypeDeflate, TypeSnappy:
		return t, nil
	default:
		return TypeNone, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding value, "" for none.
func (t Type) ContentEncoding() string {
	if t == TypeNone {
		return ""
	}
	return string(t)
}

// ParseContentEncoding maps a Content-Encoding header value to a Type.
func ParseContentEncoding(encoding string) (Type, error) {
	switch e := strings.ToLower(strings.TrimSpace(encoding)); e {
	case "", "identity":
		return TypeNone, nil
	case "gzip", "x-gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "deflate":
		return TypeDeflate, nil
	case "snappy", "x-snappy-framed":
		return TypeSnappy, nil
	default:
		return TypeNone, fmt.Errorf("%w: content encoding %q", ErrUnsupported, encoding)
	}
}

var (
	gzipWriters = sync.Pool{}
	zstdWriters = sync.Pool{}
	gzipReaders = sync.Pool{}
	zstdReaders = sync.Pool{}
)

func fromPool[T any](p *sync.Pool, codec string, create func() (T, error)) (T, error) {
	poolGets.WithLabelValues(codec).Inc()
	if v, ok := p.Get().(T); ok {
		return v, nil
	}
	poolNews.WithLabelValues(codec).Inc()
	return create()
}

type writer struct {
	io.WriteCloser
	release func()
	closed  bool
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.WriteCloser.Close()
	if w.release != nil {
		w.release()
	}
	return err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns an encoder writing t-compressed data to w. Close
// flushes the stream and returns the encoder to its pool; it does not
// close w.
func NewWriter(w io.Writer, t Type) (io.WriteCloser, error) {
	switch t {
	case TypeNone, "":
		return nopWriteCloser{w}, nil
	case TypeGzip:
		gw, err := fromPool(&gzipWriters, "gzip", func() (*gzip.Writer, error) { return gzip.NewWriter(nil), nil })
		if err != nil {
			return nil, err
		}
		gw.Reset(w)
		return &writer{WriteCloser: gw, release: func() { gzipWriters.Put(gw) }}, nil
	case TypeZstd:
		zw, err := fromPool(&zstdWriters, "zstd", func() (*zstd.Encoder, error) {
			return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		})
		if err != nil {
			return nil, err
		}
		zw.Reset(w)
		return &writer{WriteCloser: zw, release: func() { zstdWriters.Put(zw) }}, nil
	case TypeDeflate:
		fw, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		return &writer{WriteCloser: fw}, nil
	case TypeSnappy:
		return &writer{WriteCloser: snappy.NewBufferedWriter(w)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, t)
	}
}

type reader struct {
	io.Reader
	release func()
}

func (r *reader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}

// NewReader returns a decoder of t-compressed data read from r. Close
// returns the decoder to its pool; it does not close r.
func NewReader(r io.Reader, t Type) (io.ReadCloser, error) {
	switch t {
	case TypeNone, "":
		return io.NopCloser(r), nil
	case TypeGzip:
		gr, err := fromPool(&gzipReaders, "gzip", func() (*gzip.Reader, error) { return new(gzip.Reader), nil })
		if err != nil {
			return nil, err
		}
		if err := gr.Reset(r); err != nil {
			gzipReaders.Put(gr)
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &reader{Reader: gr, release: func() { gzipReaders.Put(gr) }}, nil
	case TypeZstd:
		zr, err := fromPool(&zstdReaders, "zstd", func() (*zstd.Decoder, error) {
			return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		})
		if err != nil {
			return nil, err
		}
		if err := zr.Reset(r); err != nil {
			zstdReaders.Put(zr)
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &reader{Reader: zr, release: func() {
			_ = zr.Reset(nil)
			zstdReaders.Put(zr)
		}}, nil
	case TypeDeflate:
		return flate.NewReader(r), nil
	case TypeSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, t)
	}
}
