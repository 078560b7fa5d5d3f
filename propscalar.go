package edelta

import (
	"time"

	"github.com/google/uuid"
)

type scalarProp struct {
	propBase
	typ scalarOps
}

// Scalar declares a scalar property of type typ stored in the field
// returned by field.
func Scalar[T, V any](b *ClassBuilder[T], name string, typ *ScalarType[V], field func(*T) *V, opts ...PropOption) PropertyMeta {
	p := &scalarProp{typ: typ}
	p.get = func(obj any) any {
		return *field(obj.(*T))
	}
	p.set = func(obj any, v any) {
		*field(obj.(*T)) = unbox[V](v)
	}
	p.init(p, b.cls, name, PropScalar, ShapeNone, opts)
	return p
}

func Bool[T any](b *ClassBuilder[T], name string, field func(*T) *bool, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TBool, field, opts...)
}

func Int[T any](b *ClassBuilder[T], name string, field func(*T) *int32, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TInt, field, opts...)
}

func Long[T any](b *ClassBuilder[T], name string, field func(*T) *int64, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TLong, field, opts...)
}

func Double[T any](b *ClassBuilder[T], name string, field func(*T) *float64, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TDouble, field, opts...)
}

func String[T any](b *ClassBuilder[T], name string, field func(*T) *string, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TString, field, opts...)
}

func DateTime[T any](b *ClassBuilder[T], name string, field func(*T) *time.Time, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TDateTime, field, opts...)
}

func Guid[T any](b *ClassBuilder[T], name string, field func(*T) *uuid.UUID, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TGuid, field, opts...)
}

func Binary[T any](b *ClassBuilder[T], name string, field func(*T) *[]byte, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TBinary, field, opts...)
}

func DoubleArray[T any](b *ClassBuilder[T], name string, field func(*T) *[]float64, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TDoubleArray, field, opts...)
}

func Enum[T any, E ~int32](b *ClassBuilder[T], name string, field func(*T) *E, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, TEnum[E](), field, opts...)
}

// NullableScalar declares a scalar property stored as a pointer, where nil
// is the null value.
func NullableScalar[T, V any](b *ClassBuilder[T], name string, typ *ScalarType[V], field func(*T) **V, opts ...PropOption) PropertyMeta {
	return Scalar(b, name, Nullable(typ), field, opts...)
}

// format renders v as a key part.
func (p *scalarProp) format(v any) string {
	return p.typ.formatAny(v)
}

func (p *scalarProp) isDefaultValue(v any) bool {
	return p.typ.isZeroAny(v)
}

func (p *scalarProp) diff(d *differ, prior, current any) PropertyDelta {
	if p.typ.equalAny(prior, current) {
		return nil
	}
	return p.typ.newDelta(p, prior, current)
}

func (p *scalarProp) cloneValue(c *cloner, v any) any {
	return p.typ.cloneAny(v)
}

func (p *scalarProp) writeValue(w Writer, v any) error {
	return p.typ.writeAny(w, v)
}

func (p *scalarProp) readValue(scm *Schema, r Reader) (any, error) {
	return p.typ.readAny(r)
}

func (p *scalarProp) readDelta(scm *Schema, r Reader) (PropertyDelta, error) {
	if err := expectLen(r.ReadList, 2, p); err != nil {
		return nil, err
	}
	prior, err := p.typ.readAny(r)
	if err != nil {
		return nil, err
	}
	current, err := p.typ.readAny(r)
	if err != nil {
		return nil, err
	}
	return p.typ.newDelta(p, prior, current), nil
}

func (p *scalarProp) inherit(owner *ClassMeta, upcast func(any) any) PropertyMeta {
	c := *p
	c.propBase = p.propBase.inherited(owner, upcast)
	c.self = &c
	return &c
}

func (p *scalarProp) link(scm *Schema) []*ConfigError {
	return p.linkCommon()
}
