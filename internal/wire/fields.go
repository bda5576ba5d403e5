package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldType is the TLV value type id.
type FieldType uint8

const (
	TypeU8      FieldType = 1
	TypeU64     FieldType = 4
	TypeBool    FieldType = 5
	TypeString  FieldType = 6
	TypeBytes   FieldType = 7
	TypeFloat64 FieldType = 8
)

// Field is one TLV field.
type Field struct {
	ID    uint16
	Type  FieldType
	Value []byte
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += fieldHeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var head [fieldHeaderLen]byte
		binary.BigEndian.PutUint16(head[0:2], f.ID)
		head[2] = byte(f.Type)
		binary.BigEndian.PutUint32(head[3:7], uint32(len(f.Value)))
		out = append(out, head[:]...)
		out = append(out, f.Value...)
	}
	return out
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	for i := 0; i < len(payload); {
		if len(payload)-i < fieldHeaderLen {
			return nil, ErrTruncated
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		ft := FieldType(payload[i+2])
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += fieldHeaderLen
		if uint64(len(payload)-i) < uint64(l) {
			return nil, ErrTruncated
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: ft, Value: val})
	}
	return fields, nil
}

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func U64(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bytes(id uint16, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

func Float64(id uint16, v float64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return Field{ID: id, Type: TypeFloat64, Value: buf}
}

// fieldSet indexes decoded fields by id. Missing optional fields decode to
// zero values; required ones are checked by the caller through has.
type fieldSet map[uint16]Field

func indexFields(fields []Field) fieldSet {
	out := make(fieldSet, len(fields))
	for _, f := range fields {
		out[f.ID] = f
	}
	return out
}

func (s fieldSet) has(id uint16) bool {
	_, ok := s[id]
	return ok
}

func (s fieldSet) typed(id uint16, want FieldType, size int) (Field, bool, error) {
	f, ok := s[id]
	if !ok {
		return Field{}, false, nil
	}
	if f.Type != want {
		return Field{}, false, fmt.Errorf("%w: field %d got %d want %d", ErrFieldTypeMismatch, id, f.Type, want)
	}
	if size >= 0 && len(f.Value) != size {
		return Field{}, false, fmt.Errorf("%w: field %d length %d", ErrTruncated, id, len(f.Value))
	}
	return f, true, nil
}

func (s fieldSet) u8(id uint16) (uint8, error) {
	f, ok, err := s.typed(id, TypeU8, 1)
	if err != nil || !ok {
		return 0, err
	}
	return f.Value[0], nil
}

func (s fieldSet) u64(id uint16) (uint64, error) {
	f, ok, err := s.typed(id, TypeU64, 8)
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (s fieldSet) boolean(id uint16) (bool, error) {
	f, ok, err := s.typed(id, TypeBool, 1)
	if err != nil || !ok {
		return false, err
	}
	return f.Value[0] != 0, nil
}

func (s fieldSet) str(id uint16) (string, error) {
	f, ok, err := s.typed(id, TypeString, -1)
	if err != nil || !ok {
		return "", err
	}
	return string(f.Value), nil
}

func (s fieldSet) bytes(id uint16) ([]byte, error) {
	f, ok, err := s.typed(id, TypeBytes, -1)
	if err != nil || !ok {
		return nil, err
	}
	return f.Value, nil
}

func (s fieldSet) f64(id uint16) (float64, error) {
	f, ok, err := s.typed(id, TypeFloat64, 8)
	if err != nil || !ok {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(f.Value)), nil
}
