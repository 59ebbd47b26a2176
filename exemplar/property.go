package exemplar

import (
	"fmt"

	"github.com/meigma/dbpf/stream"
)

// ValueType is the on-disk type tag of a property value.
type ValueType uint16

const (
	Uint8   ValueType = 0x100
	Uint16  ValueType = 0x200
	Uint32  ValueType = 0x300
	Sint32  ValueType = 0x700
	Sint64  ValueType = 0x800
	Float32 ValueType = 0x900
	Bool    ValueType = 0xB00
	String  ValueType = 0xC00
)

func (t ValueType) String() string {
	switch t {
	case Uint8:
		return "Uint8"
	case Uint16:
		return "Uint16"
	case Uint32:
		return "Uint32"
	case Sint32:
		return "Sint32"
	case Sint64:
		return "Sint64"
	case Float32:
		return "Float32"
	case Bool:
		return "Bool"
	case String:
		return "String"
	default:
		return fmt.Sprintf("ValueType(0x%x)", uint16(t))
	}
}

// keyRepeated marks a property holding a count-prefixed list, or a string.
const keyRepeated = 0x80

// Property is one typed value of an exemplar.
//
// Value holds the Go type matching Type: uint8, uint16, uint32, int32,
// int64, float32, bool or string. Repeated properties hold a slice of that
// type; strings are never repeated and are always stored length-prefixed.
type Property struct {
	ID       uint32
	Type     ValueType
	Repeated bool
	Value    any

	flag uint8
}

func (p *Property) decode(r *stream.Reader) error {
	p.ID = r.Uint32()
	p.Type = ValueType(r.Uint16())
	key := r.Uint16()
	p.flag = r.Uint8()
	if err := r.Err(); err != nil {
		return err
	}

	switch key {
	case 0:
		if p.Type == String {
			return fmt.Errorf("property 0x%08x: single string value", p.ID)
		}
		v, err := readValue(r, p.Type)
		if err != nil {
			return fmt.Errorf("property 0x%08x: %w", p.ID, err)
		}
		p.Value = v
	case keyRepeated:
		p.Repeated = true
		reps := int(r.Uint32())
		if p.Type == String {
			p.Value = r.String(reps)
			break
		}
		if width := valueWidth(p.Type); width > 0 && reps > r.Remaining()/width {
			return fmt.Errorf("property 0x%08x: %d values overrun record", p.ID, reps)
		}
		v, err := readValues(r, p.Type, reps)
		if err != nil {
			return fmt.Errorf("property 0x%08x: %w", p.ID, err)
		}
		p.Value = v
	default:
		return fmt.Errorf("property 0x%08x: unknown key type 0x%x", p.ID, key)
	}
	return r.Err()
}

func (p *Property) encode(w *stream.Writer) error {
	w.Uint32(p.ID)
	w.Uint16(uint16(p.Type))
	if p.Repeated || p.Type == String {
		w.Uint16(keyRepeated)
	} else {
		w.Uint16(0)
	}
	w.Uint8(p.flag)

	if s, ok := p.Value.(string); ok {
		if p.Type != String {
			return fmt.Errorf("property 0x%08x: string value for %s", p.ID, p.Type)
		}
		w.Uint32(uint32(len(s))) //nolint:gosec // property strings are short
		w.String(s)
		return nil
	}
	if p.Repeated {
		return writeValues(w, p)
	}
	return writeValue(w, p.ID, p.Type, p.Value)
}

func valueWidth(t ValueType) int {
	switch t {
	case Uint8, Bool:
		return 1
	case Uint16:
		return 2
	case Uint32, Sint32, Float32:
		return 4
	case Sint64:
		return 8
	}
	return 0
}

func readValue(r *stream.Reader, t ValueType) (any, error) {
	switch t {
	case Uint8:
		return r.Uint8(), nil
	case Uint16:
		return r.Uint16(), nil
	case Uint32:
		return r.Uint32(), nil
	case Sint32:
		return r.Int32(), nil
	case Sint64:
		return r.Int64(), nil
	case Float32:
		return r.Float32(), nil
	case Bool:
		return r.Bool(), nil
	}
	return nil, fmt.Errorf("unknown value type 0x%x", uint16(t))
}

func readValues(r *stream.Reader, t ValueType, n int) (any, error) {
	switch t {
	case Uint8:
		return readN(n, r.Uint8), nil
	case Uint16:
		return readN(n, r.Uint16), nil
	case Uint32:
		return readN(n, r.Uint32), nil
	case Sint32:
		return readN(n, r.Int32), nil
	case Sint64:
		return readN(n, r.Int64), nil
	case Float32:
		return readN(n, r.Float32), nil
	case Bool:
		return readN(n, r.Bool), nil
	}
	return nil, fmt.Errorf("unknown value type 0x%x", uint16(t))
}

func readN[T any](n int, read func() T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = read()
	}
	return out
}

func writeValue(w *stream.Writer, id uint32, t ValueType, v any) error {
	ok := false
	switch t {
	case Uint8:
		var x uint8
		if x, ok = v.(uint8); ok {
			w.Uint8(x)
		}
	case Uint16:
		var x uint16
		if x, ok = v.(uint16); ok {
			w.Uint16(x)
		}
	case Uint32:
		var x uint32
		if x, ok = v.(uint32); ok {
			w.Uint32(x)
		}
	case Sint32:
		var x int32
		if x, ok = v.(int32); ok {
			w.Int32(x)
		}
	case Sint64:
		var x int64
		if x, ok = v.(int64); ok {
			w.Int64(x)
		}
	case Float32:
		var x float32
		if x, ok = v.(float32); ok {
			w.Float32(x)
		}
	case Bool:
		var x bool
		if x, ok = v.(bool); ok {
			w.Bool(x)
		}
	}
	if !ok {
		return fmt.Errorf("property 0x%08x: %T value for %s", id, v, t)
	}
	return nil
}

func writeValues(w *stream.Writer, p *Property) error {
	switch vs := p.Value.(type) {
	case []uint8:
		return writeN(w, p, vs, w.Uint8, Uint8)
	case []uint16:
		return writeN(w, p, vs, w.Uint16, Uint16)
	case []uint32:
		return writeN(w, p, vs, w.Uint32, Uint32)
	case []int32:
		return writeN(w, p, vs, w.Int32, Sint32)
	case []int64:
		return writeN(w, p, vs, w.Int64, Sint64)
	case []float32:
		return writeN(w, p, vs, w.Float32, Float32)
	case []bool:
		return writeN(w, p, vs, w.Bool, Bool)
	}
	return fmt.Errorf("property 0x%08x: %T value for repeated %s", p.ID, p.Value, p.Type)
}

func writeN[T any](w *stream.Writer, p *Property, vs []T, write func(T), want ValueType) error {
	if p.Type != want {
		return fmt.Errorf("property 0x%08x: %T value for repeated %s", p.ID, p.Value, p.Type)
	}
	w.Uint32(uint32(len(vs))) //nolint:gosec // property lists are short
	for _, v := range vs {
		write(v)
	}
	return nil
}

// Uint32s converts an integer property value to a list of uint32.
func (p *Property) Uint32s() []uint32 {
	switch v := p.Value.(type) {
	case uint32:
		return []uint32{v}
	case []uint32:
		return v
	case uint8:
		return []uint32{uint32(v)}
	case uint16:
		return []uint32{uint32(v)}
	case int32:
		return []uint32{uint32(v)} //nolint:gosec // ids are reinterpreted bits
	case []uint8:
		return widen(v)
	case []uint16:
		return widen(v)
	case []int32:
		out := make([]uint32, len(v))
		for i, x := range v {
			out[i] = uint32(x) //nolint:gosec // ids are reinterpreted bits
		}
		return out
	}
	return nil
}

func widen[T uint8 | uint16](vs []T) []uint32 {
	out := make([]uint32, len(vs))
	for i, x := range vs {
		out[i] = uint32(x)
	}
	return out
}
