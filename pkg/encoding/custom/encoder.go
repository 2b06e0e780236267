package custom

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TypeID представляет тип данных
type TypeID uint8

const (
	TypeInt32 TypeID = iota + 1
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeString
	TypeMessage
	TypeList
	TypeUint32
	TypeUint64
	TypeBytes
)

// Value представляет значение любого поддерживаемого типа
type Value struct {
	Type    TypeID
	Int32   int32
	Int64   int64
	Uint32  uint32
	Uint64  uint64
	Float32 float32
	Float64 float64
	Bool    bool
	String  string
	Bytes   []byte
	Message []Field
	List    []Value
}

// Field представляет поле с номером и значением
type Field struct {
	Number uint32
	Value  Value
}

type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return e.Message
}

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Message
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}

// Encode кодирует значение в бинарный формат
func Encode(value Value) ([]byte, error) {
	return appendValue(nil, value)
}

// MustEncode для значений, собранных этим пакетом: ошибка возможна только при неизвестном типе.
func MustEncode(value Value) []byte {
	b, err := Encode(value)
	if err != nil {
		panic("custom: " + err.Error())
	}
	return b
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendValue(buf []byte, value Value) ([]byte, error) {
	// Записываем тип
	buf = append(buf, byte(value.Type))

	// В зависимости от типа записываем значение
	switch value.Type {
	case TypeInt32:
		buf = appendUint32(buf, uint32(value.Int32))

	case TypeInt64:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(value.Int64))

	case TypeUint32:
		buf = appendUint32(buf, value.Uint32)

	case TypeUint64:
		buf = binary.LittleEndian.AppendUint64(buf, value.Uint64)

	case TypeFloat32:
		buf = appendUint32(buf, math.Float32bits(value.Float32))

	case TypeFloat64:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(value.Float64))

	case TypeBool:
		if value.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}

	case TypeString:
		if len(value.String) > math.MaxUint32 {
			return nil, &EncodeError{Message: "string too large"}
		}
		// Записываем длину строки и саму строку
		buf = appendUint32(buf, uint32(len(value.String)))
		buf = append(buf, value.String...)

	case TypeBytes:
		if len(value.Bytes) > math.MaxUint32 {
			return nil, &EncodeError{Message: "bytes too large"}
		}
		buf = appendUint32(buf, uint32(len(value.Bytes)))
		buf = append(buf, value.Bytes...)

	case TypeMessage:
		// Записываем количество полей
		buf = appendUint32(buf, uint32(len(value.Message)))

		// Записываем поля
		for _, field := range value.Message {
			buf = appendUint32(buf, field.Number)

			var err error
			buf, err = appendValue(buf, field.Value)
			if err != nil {
				return nil, err
			}
		}

	case TypeList:
		// пустой список допустим: пустые часы и пустые карты кодируются именно так
		buf = appendUint32(buf, uint32(len(value.List)))

		for _, item := range value.List {
			var err error
			buf, err = appendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}

	default:
		return nil, &EncodeError{Message: fmt.Sprintf("unknown type: %d", value.Type)}
	}

	return buf, nil
}

// Unmarshal декодирует ровно одно значение и требует, чтобы вход был прочитан целиком.
func Unmarshal(data []byte) (Value, error) {
	v, n, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, decodeErrorf("%d trailing bytes", len(data)-n)
	}
	return v, nil
}

// Decode декодирует значение из бинарного формата
func Decode(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, &DecodeError{Message: "insufficient data"}
	}

	valueType := TypeID(data[0])
	offset := 1

	switch valueType {
	case TypeInt32:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for int32"}
		}
		value := int32(binary.LittleEndian.Uint32(data[offset:]))
		return Value{Type: TypeInt32, Int32: value}, offset + 4, nil

	case TypeInt64:
		if len(data[offset:]) < 8 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for int64"}
		}
		value := int64(binary.LittleEndian.Uint64(data[offset:]))
		return Value{Type: TypeInt64, Int64: value}, offset + 8, nil

	case TypeUint32:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for uint32"}
		}
		return Value{Type: TypeUint32, Uint32: binary.LittleEndian.Uint32(data[offset:])}, offset + 4, nil

	case TypeUint64:
		if len(data[offset:]) < 8 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for uint64"}
		}
		return Value{Type: TypeUint64, Uint64: binary.LittleEndian.Uint64(data[offset:])}, offset + 8, nil

	case TypeFloat32:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for float32"}
		}
		bits := binary.LittleEndian.Uint32(data[offset:])
		value := math.Float32frombits(bits)
		return Value{Type: TypeFloat32, Float32: value}, offset + 4, nil

	case TypeFloat64:
		if len(data[offset:]) < 8 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for float64"}
		}
		bits := binary.LittleEndian.Uint64(data[offset:])
		value := math.Float64frombits(bits)
		return Value{Type: TypeFloat64, Float64: value}, offset + 8, nil

	case TypeBool:
		if len(data[offset:]) < 1 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for bool"}
		}
		switch data[offset] {
		case 0:
			return Value{Type: TypeBool, Bool: false}, offset + 1, nil
		case 1:
			return Value{Type: TypeBool, Bool: true}, offset + 1, nil
		default:
			// иначе round-trip перестаёт быть побайтовым
			return Value{}, 0, decodeErrorf("invalid bool byte %d", data[offset])
		}

	case TypeString:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for string length"}
		}
		length := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if len(data[offset:]) < length {
			return Value{}, 0, &DecodeError{Message: "insufficient data for string content"}
		}
		value := string(data[offset : offset+length])
		return Value{Type: TypeString, String: value}, offset + length, nil

	case TypeBytes:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for bytes length"}
		}
		length := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if len(data[offset:]) < length {
			return Value{}, 0, &DecodeError{Message: "insufficient data for bytes content"}
		}
		value := make([]byte, length)
		copy(value, data[offset:offset+length])
		return Value{Type: TypeBytes, Bytes: value}, offset + length, nil

	case TypeMessage:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for message field count"}
		}
		fieldCount := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		// каждое поле занимает минимум 5 байт: защита от огромных аллокаций на мусоре
		if fieldCount > len(data[offset:])/5 {
			return Value{}, 0, decodeErrorf("message field count %d exceeds input", fieldCount)
		}
		fields := make([]Field, 0, fieldCount)

		for i := 0; i < fieldCount; i++ {
			if len(data[offset:]) < 4 {
				return Value{}, 0, &DecodeError{Message: "insufficient data for field number"}
			}
			number := binary.LittleEndian.Uint32(data[offset:])
			offset += 4

			value, n, err := Decode(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			fields = append(fields, Field{Number: number, Value: value})
			offset += n
		}
		return Value{Type: TypeMessage, Message: fields}, offset, nil

	case TypeList:
		if len(data[offset:]) < 4 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for list length"}
		}
		length := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if length > len(data[offset:]) {
			return Value{}, 0, decodeErrorf("list length %d exceeds input", length)
		}
		items := make([]Value, 0, length)

		for i := 0; i < length; i++ {
			value, n, err := Decode(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, value)
			offset += n
		}
		return Value{Type: TypeList, List: items}, offset, nil

	default:
		return Value{}, 0, &DecodeError{Message: fmt.Sprintf("unknown type: %d", valueType)}
	}
}
