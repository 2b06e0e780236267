package custom

// Builders and typed accessors used by the marshalers of higher-level packages.

func String(s string) Value { return Value{Type: TypeString, String: s} }
func Bool(b bool) Value     { return Value{Type: TypeBool, Bool: b} }
func Int32(i int32) Value   { return Value{Type: TypeInt32, Int32: i} }
func Uint32(u uint32) Value { return Value{Type: TypeUint32, Uint32: u} }
func Uint64(u uint64) Value { return Value{Type: TypeUint64, Uint64: u} }
func Bytes(b []byte) Value  { return Value{Type: TypeBytes, Bytes: b} }
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypeList, List: items}
}

// Message builds a message whose field numbers follow argument order, starting at 1.
func Message(values ...Value) Value {
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = Field{Number: uint32(i + 1), Value: v}
	}
	return Value{Type: TypeMessage, Message: fields}
}

func (v Value) expect(t TypeID) error {
	if v.Type != t {
		return decodeErrorf("expected type %d, got %d", t, v.Type)
	}
	return nil
}

func (v Value) AsString() (string, error) {
	if err := v.expect(TypeString); err != nil {
		return "", err
	}
	return v.String, nil
}

func (v Value) AsBool() (bool, error) {
	if err := v.expect(TypeBool); err != nil {
		return false, err
	}
	return v.Bool, nil
}

func (v Value) AsInt32() (int32, error) {
	if err := v.expect(TypeInt32); err != nil {
		return 0, err
	}
	return v.Int32, nil
}

func (v Value) AsUint32() (uint32, error) {
	if err := v.expect(TypeUint32); err != nil {
		return 0, err
	}
	return v.Uint32, nil
}

func (v Value) AsUint64() (uint64, error) {
	if err := v.expect(TypeUint64); err != nil {
		return 0, err
	}
	return v.Uint64, nil
}

func (v Value) AsBytes() ([]byte, error) {
	if err := v.expect(TypeBytes); err != nil {
		return nil, err
	}
	return v.Bytes, nil
}

func (v Value) AsList() ([]Value, error) {
	if err := v.expect(TypeList); err != nil {
		return nil, err
	}
	return v.List, nil
}

// AsMessage checks that v is a message with exactly n fields numbered 1..n in order
// and returns their values.
func (v Value) AsMessage(n int) ([]Value, error) {
	if err := v.expect(TypeMessage); err != nil {
		return nil, err
	}
	if len(v.Message) != n {
		return nil, decodeErrorf("expected %d message fields, got %d", n, len(v.Message))
	}
	out := make([]Value, n)
	for i, f := range v.Message {
		if f.Number != uint32(i+1) {
			return nil, decodeErrorf("unexpected field number %d at position %d", f.Number, i)
		}
		out[i] = f.Value
	}
	return out, nil
}
