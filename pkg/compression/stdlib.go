package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec selects how snapshots and gossip payloads are compressed.
type Codec string

const (
	None Codec = "none"
	Gzip Codec = "gzip"
	Zstd Codec = "zstd"
)

// codec ids written in front of every wrapped payload
const (
	idNone byte = iota
	idGzip
	idZstd
)

func ParseCodec(s string) (Codec, error) {
	switch c := Codec(s); c {
	case None, Gzip, Zstd:
		return c, nil
	case "":
		return None, nil
	default:
		return "", fmt.Errorf("compression: unknown codec %q", s)
	}
}

func (c Codec) id() (byte, error) {
	switch c {
	case None, "":
		return idNone, nil
	case Gzip:
		return idGzip, nil
	case Zstd:
		return idZstd, nil
	default:
		return 0, fmt.Errorf("compression: unknown codec %q", string(c))
	}
}

// Wrap compresses data with codec and prefixes it with the codec id, so that Unwrap does not
// need to know which codec the writer used.
func Wrap(c Codec, data []byte) ([]byte, error) {
	id, err := c.id()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 1)
	buf.WriteByte(id)

	switch id {
	case idNone:
		buf.Write(data)
	case idGzip:
		_, err = CompressGzip(bytes.NewReader(data), &buf)
	case idZstd:
		_, err = CompressZstd(bytes.NewReader(data), &buf)
	}
	if err != nil {
		return nil, fmt.Errorf("compression %s: %w", c, err)
	}
	return buf.Bytes(), nil
}

// MaxUnwrappedSize bounds what Unwrap inflates a payload to.
const MaxUnwrappedSize = 256 << 20

// Unwrap is the inverse of Wrap. Payloads inflating past MaxUnwrappedSize fail with ErrTooLarge.
func Unwrap(data []byte) ([]byte, error) {
	return UnwrapLimit(data, MaxUnwrappedSize)
}

// UnwrapLimit is Unwrap with an explicit bound on the decompressed size.
func UnwrapLimit(data []byte, limit int64) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("compression: empty payload")
	}

	var (
		out bytes.Buffer
		err error
	)
	w := &cappedWriter{w: &out, limit: limit}
	switch data[0] {
	case idNone:
		if int64(len(data)-1) > limit {
			return nil, ErrTooLarge
		}
		return data[1:], nil
	case idGzip:
		_, err = DecompressGzip(bytes.NewReader(data[1:]), w)
	case idZstd:
		_, err = decompressZstd(bytes.NewReader(data[1:]), w, zstd.WithDecoderMaxMemory(uint64(limit)))
	default:
		return nil, fmt.Errorf("compression: unknown codec id %d", data[0])
	}
	if err != nil {
		if errors.Is(err, ErrTooLarge) || errors.Is(err, zstd.ErrDecoderSizeExceeded) ||
			errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("%w: limit %d", ErrTooLarge, limit)
		}
		return nil, fmt.Errorf("compression: %w", err)
	}
	return out.Bytes(), nil
}

// CompressGzip compresses r into w and returns the number of compressed bytes written.
func CompressGzip(r io.Reader, w io.Writer) (int64, error) {
	counter := &byteCounter{w: w}
	gz := gzip.NewWriter(counter)

	if _, err := io.Copy(gz, r); err != nil {
		gz.Close()
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	return counter.Count(), nil
}

func DecompressGzip(r io.Reader, w io.Writer) (int64, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	return io.Copy(w, gz)
}

// CompressZstd compresses r into w and returns the number of compressed bytes written.
func CompressZstd(r io.Reader, w io.Writer) (int64, error) {
	counter := &byteCounter{w: w}
	enc, err := zstd.NewWriter(counter)
	if err != nil {
		return 0, err
	}

	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	return counter.Count(), nil
}

func DecompressZstd(r io.Reader, w io.Writer) (int64, error) {
	return decompressZstd(r, w)
}

func decompressZstd(r io.Reader, w io.Writer, opts ...zstd.DOption) (int64, error) {
	dec, err := zstd.NewReader(r, opts...)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	return io.Copy(w, dec)
}
