package edelta

import (
	"fmt"
	"reflect"
)

type (
	PropertyKind int

	CollectionShape int
)

const (
	PropScalar PropertyKind = iota
	PropComponent
	PropComponentCollection
	PropReferenceCollection
	PropReference
)

const (
	ShapeNone CollectionShape = iota
	ShapeList
	ShapeMap
	ShapeSet
	ShapeBag
)

func (k PropertyKind) String() string {
	switch k {
	case PropScalar:
		return "scalar"
	case PropComponent:
		return "component"
	case PropComponentCollection:
		return "component-collection"
	case PropReferenceCollection:
		return "reference-collection"
	case PropReference:
		return "reference"
	default:
		return fmt.Sprintf("invalid property kind %d", int(k))
	}
}

func (s CollectionShape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeList:
		return "list"
	case ShapeMap:
		return "map"
	case ShapeSet:
		return "set"
	case ShapeBag:
		return "bag"
	default:
		return fmt.Sprintf("invalid shape %d", int(s))
	}
}

// PropertyMeta describes one property of a class. The set of
// implementations is closed: scalar, component, component collection,
// reference and reference collection properties.
//
// Values passed to and returned from Get and Set use one representation per
// kind: the Go value for scalars, the object pointer (or nil) for components
// and references, []any for list/bag/set collections and []MapEntry sorted
// by key for maps.
type PropertyMeta interface {
	Name() string
	Index() int
	Kind() PropertyKind
	Shape() CollectionShape
	Persistent() bool
	IsKey() bool
	IsChildKey() bool
	IsValidFrom() bool
	Owner() *ClassMeta
	Cascade() *Cascade

	Get(obj any) any
	Set(obj any, v any)
	IsDefault(obj any) bool
	IsSame(a, b any) bool
	CreateDelta(a, b any) PropertyDelta
	Write(w Writer, obj any) error
	Read(r Reader, obj any) error
	String() string

	base() *propBase
	isDefaultValue(v any) bool
	diff(d *differ, prior, current any) PropertyDelta
	cloneValue(c *cloner, v any) any
	writeValue(w Writer, v any) error
	readValue(scm *Schema, r Reader) (any, error)
	readDelta(scm *Schema, r Reader) (PropertyDelta, error)
	inherit(owner *ClassMeta, upcast func(any) any) PropertyMeta
	link(scm *Schema) []*ConfigError
}

// MapEntry is one entry of a map-shaped property.
type MapEntry struct {
	Key   any
	Value any
}

// PropOption customizes a property declaration.
type PropOption interface {
	applyTo(p *propBase)
}

type propFlag uint32

const (
	// KeyProp adds the property to the class's business key.
	KeyProp propFlag = 1 << iota
	// ChildKeyProp adds the property to the child key used inside owning collections.
	ChildKeyProp
	// TransientProp excludes the property from diffs and encoding.
	TransientProp
	// ValidFromProp marks the validity timestamp of a historized class.
	ValidFromProp
	// InverseProp marks the non-owning side of a bidirectional reference.
	InverseProp
)

func (f propFlag) applyTo(p *propBase) {
	p.flags |= f
}

type joinKeyOption string

// JoinKey names the relationship a reference belongs to; the inverse side
// must use the same join key.
func JoinKey(name string) PropOption {
	return joinKeyOption(name)
}

func (o joinKeyOption) applyTo(p *propBase) {
	p.joinKey = string(o)
}

type propBase struct {
	self        PropertyMeta
	name        string
	index       int
	kind        PropertyKind
	shape       CollectionShape
	flags       propFlag
	owner       *ClassMeta
	declaredIn  *ClassMeta
	cascade     *Cascade
	strategy    CascadeStrategy
	strategySet bool
	joinKey     string

	get func(obj any) any
	set func(obj any, v any)
}

func (p *propBase) init(self PropertyMeta, owner *ClassMeta, name string, kind PropertyKind, shape CollectionShape, opts []PropOption) {
	p.self = self
	p.owner = owner
	p.declaredIn = owner
	p.name = name
	p.kind = kind
	p.shape = shape
	for _, opt := range opts {
		opt.applyTo(p)
	}
	owner.declare(self)
}

func (p *propBase) base() *propBase        { return p }
func (p *propBase) Name() string           { return p.name }
func (p *propBase) Index() int             { return p.index }
func (p *propBase) Kind() PropertyKind     { return p.kind }
func (p *propBase) Shape() CollectionShape { return p.shape }
func (p *propBase) Persistent() bool       { return p.flags&TransientProp == 0 }
func (p *propBase) IsKey() bool            { return p.flags&KeyProp != 0 }
func (p *propBase) IsChildKey() bool       { return p.flags&ChildKeyProp != 0 }
func (p *propBase) IsValidFrom() bool      { return p.flags&ValidFromProp != 0 }
func (p *propBase) Owner() *ClassMeta      { return p.owner }
func (p *propBase) Cascade() *Cascade      { return p.cascade }

// DeclaringClass returns the class that declared the property, which
// differs from Owner for inherited properties.
func (p *propBase) DeclaringClass() *ClassMeta {
	return p.declaredIn
}

func (p *propBase) String() string {
	return p.owner.name + "." + p.name
}

func (p *propBase) Get(obj any) any {
	return p.forObject(obj).get(obj)
}

func (p *propBase) Set(obj any, v any) {
	p.forObject(obj).set(obj, v)
}

func (p *propBase) IsDefault(obj any) bool {
	return p.self.isDefaultValue(p.Get(obj))
}

// IsSame reports whether the property has the same value on a and b. It
// runs the delta routine in probe mode, so IsSame(a, b) is exactly
// CreateDelta(a, b) == nil.
func (p *propBase) IsSame(a, b any) bool {
	d := differ{scm: p.owner.schema, probe: true}
	return p.self.diff(&d, p.valueOf(a), p.valueOf(b)) == nil
}

func (p *propBase) CreateDelta(a, b any) PropertyDelta {
	d := differ{scm: p.owner.schema}
	return p.self.diff(&d, p.valueOf(a), p.valueOf(b))
}

func (p *propBase) Write(w Writer, obj any) error {
	return p.self.writeValue(w, p.Get(obj))
}

func (p *propBase) Read(r Reader, obj any) error {
	v, err := p.self.readValue(p.owner.schema, r)
	if err != nil {
		return fmt.Errorf("%v: %w", p, err)
	}
	p.Set(obj, v)
	return nil
}

// valueOf returns the property value of obj, treating a nil owner as
// holding the default value.
func (p *propBase) valueOf(obj any) any {
	if obj == nil {
		return nil
	}
	return p.Get(obj)
}

// forObject returns the variant of the property that accepts obj, which
// is p itself or its inherited copy on a derived class.
func (p *propBase) forObject(obj any) *propBase {
	if obj == nil {
		panic(fmt.Errorf("%v: nil object", p))
	}
	ot := reflect.TypeOf(obj)
	if ot == p.owner.goType {
		return p
	}
	if cls := p.owner.schema.classesByType[ot]; cls != nil && cls.IsSubclassOf(p.owner) {
		return cls.props[p.index].base()
	}
	panic(fmt.Errorf("%v: object of type %v is not a %s", p, ot, p.owner.name))
}

func (p *propBase) inherited(owner *ClassMeta, upcast func(any) any) propBase {
	c := *p
	c.owner = owner
	c.cascade = nil
	get, set := p.get, p.set
	c.get = func(obj any) any { return get(upcast(obj)) }
	c.set = func(obj any, v any) { set(upcast(obj), v) }
	return c
}

// linkCommon validates options that only make sense on some property kinds.
func (p *propBase) linkCommon() []*ConfigError {
	var errs []*ConfigError
	isRef := p.kind == PropReference || p.kind == PropReferenceCollection
	if !isRef {
		if p.strategySet {
			errs = append(errs, configErrf(p.owner, p.name, "cascade strategy on a non-reference property"))
		}
		if p.flags&InverseProp != 0 || p.joinKey != "" {
			errs = append(errs, configErrf(p.owner, p.name, "inverse or join key on a non-reference property"))
		}
	}
	if p.kind != PropScalar && p.flags&(KeyProp|ChildKeyProp|ValidFromProp) != 0 {
		errs = append(errs, configErrf(p.owner, p.name, "only scalar properties can be keys or validity timestamps"))
	}
	if p.flags&(KeyProp|ChildKeyProp) != 0 && p.flags&TransientProp != 0 {
		errs = append(errs, configErrf(p.owner, p.name, "key property cannot be transient"))
	}
	return errs
}

// boxObject converts a typed nil pointer or interface into an untyped nil.
func boxObject[C any](v C) any {
	a := any(v)
	if isNil(a) {
		return nil
	}
	return a
}

func unboxObject[C any](v any) C {
	if v == nil {
		var zero C
		return zero
	}
	return v.(C)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
