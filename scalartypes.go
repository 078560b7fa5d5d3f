package edelta

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScalarType describes how values of a scalar property are compared,
// formatted and encoded.
type ScalarType[V any] struct {
	name   string
	equal  func(a, b V) bool
	isZero func(v V) bool
	format func(v V) string
	write  func(w Writer, v V) error
	read   func(r Reader) (V, error)
	clone  func(v V) V
}

// scalarOps is the type-erased view of *ScalarType[V] used by properties.
type scalarOps interface {
	Name() string
	equalAny(a, b any) bool
	isZeroAny(v any) bool
	formatAny(v any) string
	writeAny(w Writer, v any) error
	readAny(r Reader) (any, error)
	cloneAny(v any) any
	newDelta(p PropertyMeta, prior, current any) PropertyDelta
	goType() reflect.Type
}

var (
	TBool = &ScalarType[bool]{
		name:   "bool",
		equal:  func(a, b bool) bool { return a == b },
		format: strconv.FormatBool,
		write:  func(w Writer, v bool) error { return w.WriteBool(v) },
		read:   func(r Reader) (bool, error) { return r.ReadBool() },
	}

	TInt = &ScalarType[int32]{
		name:   "int",
		equal:  func(a, b int32) bool { return a == b },
		format: func(v int32) string { return strconv.FormatInt(int64(v), 10) },
		write:  func(w Writer, v int32) error { return w.WriteInt(v) },
		read:   func(r Reader) (int32, error) { return r.ReadInt() },
	}

	TLong = &ScalarType[int64]{
		name:   "long",
		equal:  func(a, b int64) bool { return a == b },
		format: func(v int64) string { return strconv.FormatInt(v, 10) },
		write:  func(w Writer, v int64) error { return w.WriteLong(v) },
		read:   func(r Reader) (int64, error) { return r.ReadLong() },
	}

	TDouble = &ScalarType[float64]{
		name:   "double",
		equal:  floatEqual,
		format: formatFloat,
		write:  func(w Writer, v float64) error { return w.WriteDouble(v) },
		read:   func(r Reader) (float64, error) { return r.ReadDouble() },
	}

	TString = &ScalarType[string]{
		name:   "string",
		equal:  func(a, b string) bool { return a == b },
		format: func(v string) string { return v },
		write:  func(w Writer, v string) error { return w.WriteString(v) },
		read:   func(r Reader) (string, error) { return r.ReadString() },
	}

	TDateTime = &ScalarType[time.Time]{
		name:   "datetime",
		equal:  time.Time.Equal,
		isZero: time.Time.IsZero,
		format: func(v time.Time) string { return v.UTC().Format(time.RFC3339Nano) },
		write:  func(w Writer, v time.Time) error { return w.WriteDateTime(v) },
		read:   func(r Reader) (time.Time, error) { return r.ReadDateTime() },
	}

	TGuid = &ScalarType[uuid.UUID]{
		name:   "guid",
		equal:  func(a, b uuid.UUID) bool { return a == b },
		format: uuid.UUID.String,
		write:  func(w Writer, v uuid.UUID) error { return w.WriteGuid(v) },
		read:   func(r Reader) (uuid.UUID, error) { return r.ReadGuid() },
	}

	TBinary = &ScalarType[[]byte]{
		name:   "binary",
		equal:  bytes.Equal,
		isZero: func(v []byte) bool { return len(v) == 0 },
		format: hex.EncodeToString,
		write:  func(w Writer, v []byte) error { return w.WriteBytes(v) },
		read:   func(r Reader) ([]byte, error) { return r.ReadBytes() },
		clone:  bytes.Clone,
	}

	TDoubleArray = &ScalarType[[]float64]{
		name:   "double[]",
		equal:  func(a, b []float64) bool { return slices.EqualFunc(a, b, floatEqual) },
		isZero: func(v []float64) bool { return len(v) == 0 },
		format: formatFloats,
		write:  func(w Writer, v []float64) error { return w.WriteDoubleArray(v) },
		read:   func(r Reader) ([]float64, error) { return r.ReadDoubleArray() },
		clone:  func(v []float64) []float64 { return slices.Clone(v) },
	}
)

// TEnum returns the scalar type of an int32-based enumeration. Values that
// implement fmt.Stringer are formatted by name.
func TEnum[E ~int32]() *ScalarType[E] {
	return &ScalarType[E]{
		name:  reflect.TypeFor[E]().Name(),
		equal: func(a, b E) bool { return a == b },
		format: func(v E) string {
			if s, ok := any(v).(fmt.Stringer); ok {
				return s.String()
			}
			return strconv.FormatInt(int64(v), 10)
		},
		write: func(w Writer, v E) error { return w.WriteInt(int32(v)) },
		read: func(r Reader) (E, error) {
			v, err := r.ReadInt()
			return E(v), err
		},
	}
}

// Nullable returns the pointer-valued variant of t: nil is the null value
// and is distinct from a pointer to the zero value.
func Nullable[V any](t *ScalarType[V]) *ScalarType[*V] {
	return &ScalarType[*V]{
		name: t.name + "?",
		equal: func(a, b *V) bool {
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return t.equal(*a, *b)
		},
		isZero: func(v *V) bool { return v == nil },
		format: func(v *V) string {
			if v == nil {
				return "null"
			}
			return t.format(*v)
		},
		write: func(w Writer, v *V) error {
			if v == nil {
				return w.WriteNull()
			}
			return t.write(w, *v)
		},
		read: func(r Reader) (*V, error) {
			if null, err := r.ReadNull(); err != nil || null {
				return nil, err
			}
			v, err := t.read(r)
			if err != nil {
				return nil, err
			}
			return &v, nil
		},
		clone: func(v *V) *V {
			if v == nil {
				return nil
			}
			c := t.cloneValue(*v)
			return &c
		},
	}
}

func (t *ScalarType[V]) Name() string   { return t.name }
func (t *ScalarType[V]) String() string { return t.name }

func (t *ScalarType[V]) Equal(a, b V) bool {
	return t.equal(a, b)
}

func (t *ScalarType[V]) IsZero(v V) bool {
	if t.isZero != nil {
		return t.isZero(v)
	}
	var zero V
	return t.equal(v, zero)
}

func (t *ScalarType[V]) Format(v V) string {
	return t.format(v)
}

func (t *ScalarType[V]) cloneValue(v V) V {
	if t.clone == nil {
		return v
	}
	return t.clone(v)
}

func (t *ScalarType[V]) goType() reflect.Type {
	return reflect.TypeFor[V]()
}

func (t *ScalarType[V]) equalAny(a, b any) bool {
	return t.equal(unbox[V](a), unbox[V](b))
}

func (t *ScalarType[V]) isZeroAny(v any) bool {
	return t.IsZero(unbox[V](v))
}

func (t *ScalarType[V]) formatAny(v any) string {
	return t.format(unbox[V](v))
}

func (t *ScalarType[V]) writeAny(w Writer, v any) error {
	return t.write(w, unbox[V](v))
}

func (t *ScalarType[V]) readAny(r Reader) (any, error) {
	v, err := t.read(r)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (t *ScalarType[V]) cloneAny(v any) any {
	return t.cloneValue(unbox[V](v))
}

func (t *ScalarType[V]) newDelta(p PropertyMeta, prior, current any) PropertyDelta {
	return &ScalarDelta[V]{
		Prop:    p,
		Prior:   unbox[V](prior),
		Current: unbox[V](current),
		typ:     t,
	}
}

func unbox[V any](v any) V {
	if v == nil {
		var zero V
		return zero
	}
	return v.(V)
}

// floatEqual treats NaN as equal to NaN so that every value is the same as itself.
func floatEqual(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatFloats(v []float64) string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(formatFloat(f))
	}
	buf.WriteByte(']')
	return buf.String()
}
