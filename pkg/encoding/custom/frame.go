package custom

// FormatVersion is the leading byte of every framed unit. Decoders reject any other version.
const FormatVersion byte = 1

// Frame prefixes the encoded value with FormatVersion.
func Frame(v Value) ([]byte, error) {
	return appendValue([]byte{FormatVersion}, v)
}

// Unframe checks the format version and decodes the whole remaining input as one value.
func Unframe(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, &DecodeError{Message: "empty input"}
	}
	if data[0] != FormatVersion {
		return Value{}, decodeErrorf("unsupported format version %d", data[0])
	}
	return Unmarshal(data[1:])
}
