package compression

import (
	"bytes"
	"errors"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("namespace metadata "), 200)

	for _, c := range []Codec{None, Gzip, Zstd} {
		t.Run(string(c), func(t *testing.T) {
			wrapped, err := Wrap(c, data)
			if err != nil {
				t.Fatalf("wrap: %v", err)
			}
			if c != None && len(wrapped) >= len(data) {
				t.Fatalf("%s did not compress: %d >= %d", c, len(wrapped), len(data))
			}
			got, err := Unwrap(wrapped)
			if err != nil {
				t.Fatalf("unwrap: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip mismatch")
			}
		})
	}
}

func TestUnwrapRejectsGarbage(t *testing.T) {
	if _, err := Unwrap(nil); err == nil {
		t.Fatalf("empty payload accepted")
	}
	if _, err := Unwrap([]byte{42, 1, 2}); err == nil {
		t.Fatalf("unknown codec accepted")
	}
	if _, err := Unwrap([]byte{idGzip, 1, 2, 3}); err == nil {
		t.Fatalf("corrupt gzip accepted")
	}
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": None, "none": None, "gzip": Gzip, "zstd": Zstd} {
		got, err := ParseCodec(in)
		if err != nil || got != want {
			t.Fatalf("ParseCodec(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCodec("lz4"); err == nil {
		t.Fatalf("unknown codec accepted")
	}
}

func TestUnwrapLimit(t *testing.T) {
	tests := []struct {
		codec Codec
		size  int
		limit int64
	}{
		{None, 1 << 10, 512},
		{Gzip, 1 << 20, 64 << 10},
		{Zstd, 32 << 20, 16 << 20},
	}
	for _, tt := range tests {
		t.Run(string(tt.codec), func(t *testing.T) {
			// нули сжимаются в сотни раз: маленькое тело, огромный результат
			wrapped, err := Wrap(tt.codec, make([]byte, tt.size))
			if err != nil {
				t.Fatalf("wrap: %v", err)
			}
			if _, err := UnwrapLimit(wrapped, tt.limit); !errors.Is(err, ErrTooLarge) {
				t.Fatalf("expected ErrTooLarge, got %v", err)
			}
			got, err := UnwrapLimit(wrapped, int64(tt.size))
			if err != nil {
				t.Fatalf("unwrap at exact limit: %v", err)
			}
			if len(got) != tt.size {
				t.Fatalf("expected %d bytes, got %d", tt.size, len(got))
			}
		})
	}
}
