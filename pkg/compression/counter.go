package compression

import (
	"errors"
	"io"
)

// ErrTooLarge is returned when a payload decompresses past the allowed size.
var ErrTooLarge = errors.New("compression: decompressed payload too large")

// byteCounter считает байты, прошедшие в w
type byteCounter struct {
	w     io.Writer
	count int64
}

func (bc *byteCounter) Write(p []byte) (int, error) {
	n, err := bc.w.Write(p)
	bc.count += int64(n)
	return n, err
}

func (bc *byteCounter) Count() int64 {
	return bc.count
}

// cappedWriter пропускает не больше limit байт, дальше ErrTooLarge.
type cappedWriter struct {
	w     io.Writer
	limit int64
	n     int64
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	if cw.n+int64(len(p)) > cw.limit {
		return 0, ErrTooLarge
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
