package dbpf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/meigma/dbpf/stream"
	"github.com/meigma/dbpf/tgi"
)

// Kind describes how an entry's decoded bytes map onto records.
type Kind uint8

const (
	// KindOpaque entries are not decoded; Read returns their bytes.
	KindOpaque Kind = iota

	// KindSingle entries hold exactly one record.
	KindSingle

	// KindArray entries hold back-to-back records, each starting with its
	// own size as a uint32 that counts the size field itself.
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindOpaque:
		return "opaque"
	case KindSingle:
		return "single"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Codec converts between one record and its bytes.
type Codec interface {
	Decode(b []byte) (any, error)
	Encode(v any) ([]byte, error)
}

// StreamDecoder is an optional Codec extension. Codecs implementing it are
// decoded from a reader so that the registry can compare the bytes consumed
// against the bytes available and report a [Diagnostic] on mismatch.
type StreamDecoder interface {
	DecodeStream(r *stream.Reader) (any, error)
}

// RecordType binds a type id to its codec.
type RecordType struct {
	ID    uint32
	Name  string
	Kind  Kind
	Codec Codec
}

// Registry maps type ids to record types.
//
// Register every type before opening archives that use it. Lookups are safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[uint32]RecordType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[uint32]RecordType)}
}

// Register adds rt. Registering an id twice returns ErrDuplicateType.
func (r *Registry) Register(rt RecordType) error {
	if rt.Kind != KindOpaque && rt.Codec == nil {
		return fmt.Errorf("dbpf: record type 0x%08x (%s) has no codec", rt.ID, rt.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[rt.ID]; ok {
		return fmt.Errorf("%w: 0x%08x (%s)", ErrDuplicateType, rt.ID, rt.Name)
	}
	r.types[rt.ID] = rt
	return nil
}

// Lookup returns the record type registered for id. Unregistered ids report
// a KindOpaque type and false.
func (r *Registry) Lookup(id uint32) (RecordType, bool) {
	if r == nil {
		return RecordType{ID: id}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[id]
	if !ok {
		return RecordType{ID: id}, false
	}
	return rt, true
}

// Types returns the number of registered types.
func (r *Registry) Types() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// decode turns decoded entry bytes into a record value.
//
// Array entries return []any with nil holes for records that failed; the
// error then joins one *RecordError per failure.
func (rt RecordType) decode(id tgi.TGI, data []byte) (any, []Diagnostic, error) {
	switch rt.Kind {
	case KindSingle:
		v, consumed, err := rt.decodeOne(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedRecord, id, err)
		}
		var diags []Diagnostic
		if consumed >= 0 && consumed != len(data) {
			diags = append(diags, Diagnostic{TGI: id, Record: -1, Declared: len(data), Consumed: consumed})
		}
		return v, diags, nil
	case KindArray:
		return rt.decodeArray(id, data)
	default:
		return data, nil, nil
	}
}

// decodeOne returns the value and the bytes consumed, or -1 when the codec
// cannot tell.
func (rt RecordType) decodeOne(b []byte) (any, int, error) {
	if sd, ok := rt.Codec.(StreamDecoder); ok {
		r := stream.NewReader(b)
		v, err := sd.DecodeStream(r)
		if err == nil {
			err = r.Err()
		}
		return v, r.Offset(), err
	}
	v, err := rt.Codec.Decode(b)
	return v, -1, err
}

func (rt RecordType) decodeArray(id tgi.TGI, data []byte) (any, []Diagnostic, error) {
	var (
		values []any
		diags  []Diagnostic
		errs   []error
	)
	off := 0
	for off < len(data) {
		index := len(values)
		if len(data)-off < 4 {
			errs = append(errs, &RecordError{TGI: id, Index: index, Offset: off,
				Err: fmt.Errorf("%d trailing bytes", len(data)-off)})
			break
		}
		size := int(binary.LittleEndian.Uint32(data[off:]))
		if size < 4 || size > len(data)-off {
			errs = append(errs, &RecordError{TGI: id, Index: index, Offset: off,
				Err: fmt.Errorf("record size %d exceeds remaining %d bytes", size, len(data)-off)})
			break
		}
		v, consumed, err := rt.decodeOne(data[off : off+size])
		if err != nil {
			errs = append(errs, &RecordError{TGI: id, Index: index, Offset: off, Err: err})
			v = nil
		} else if consumed >= 0 && consumed != size {
			diags = append(diags, Diagnostic{TGI: id, Record: index, Declared: size, Consumed: consumed})
		}
		values = append(values, v)
		off += size
	}
	return values, diags, errors.Join(errs...)
}

// encode is the inverse of decode.
func (rt RecordType) encode(id tgi.TGI, v any) ([]byte, error) {
	switch rt.Kind {
	case KindSingle:
		b, err := rt.Codec.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedRecord, id, err)
		}
		return b, nil
	case KindArray:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: array entry holds %T, want []any", ErrMalformedRecord, id, v)
		}
		var out []byte
		for i, item := range list {
			if item == nil {
				return nil, &RecordError{TGI: id, Index: i, Offset: len(out), Err: errors.New("missing record")}
			}
			b, err := rt.Codec.Encode(item)
			if err != nil {
				return nil, &RecordError{TGI: id, Index: i, Offset: len(out), Err: err}
			}
			out = append(out, b...)
		}
		return out, nil
	default:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s: opaque entry holds %T, want []byte", ErrMalformedRecord, id, v)
		}
		return b, nil
	}
}
