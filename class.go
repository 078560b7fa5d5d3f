package edelta

import (
	"fmt"
	"reflect"
)

// SubclassStrategy is the mapping strategy of an inheritance chain.
type SubclassStrategy int

const (
	SubclassUnspecified SubclassStrategy = iota
	TablePerHierarchy
	TablePerSubclass
	TablePerConcreteClass
)

func (s SubclassStrategy) String() string {
	switch s {
	case SubclassUnspecified:
		return "unspecified"
	case TablePerHierarchy:
		return "table-per-hierarchy"
	case TablePerSubclass:
		return "table-per-subclass"
	case TablePerConcreteClass:
		return "table-per-concrete-class"
	default:
		return fmt.Sprintf("invalid subclass strategy %d", int(s))
	}
}

// ClassMeta describes an entity or component (value object) class. It is
// built by DefineEntity/DefineComponent and is immutable after Schema.Seal.
type ClassMeta struct {
	schema   *Schema
	name     string
	pos      int
	entityID int
	goType   reflect.Type // *T
	isEntity bool
	child    bool
	abstract bool
	newFn    func() any

	baseType reflect.Type
	upcast   func(any) any
	base     *ClassMeta
	derived  []*ClassMeta

	strategy          SubclassStrategy
	defaultCascade    CascadeStrategy
	defaultCascadeSet bool

	declared    []PropertyMeta
	props       []PropertyMeta
	propsByName map[string]PropertyMeta
	persistent  []PropertyMeta
	businessKey []PropertyMeta
	childKey    []PropertyMeta
	validFrom   PropertyMeta
	cascades    []*Cascade

	sealed bool
}

func (cls *ClassMeta) Name() string          { return cls.name }
func (cls *ClassMeta) String() string        { return cls.name }
func (cls *ClassMeta) Schema() *Schema       { return cls.schema }
func (cls *ClassMeta) EntityID() int         { return cls.entityID }
func (cls *ClassMeta) GoType() reflect.Type  { return cls.goType }
func (cls *ClassMeta) IsEntity() bool        { return cls.isEntity }
func (cls *ClassMeta) IsComponent() bool     { return !cls.isEntity }
func (cls *ClassMeta) IsChildEntity() bool   { return cls.isEntity && cls.child }
func (cls *ClassMeta) IsRootEntity() bool    { return cls.isEntity && !cls.child }
func (cls *ClassMeta) IsAbstract() bool      { return cls.abstract }
func (cls *ClassMeta) Base() *ClassMeta      { return cls.base }
func (cls *ClassMeta) IsBaseType() bool      { return len(cls.derived) > 0 }
func (cls *ClassMeta) IsDerivedType() bool   { return cls.base != nil }
func (cls *ClassMeta) IsStandalone() bool    { return cls.base == nil && len(cls.derived) == 0 }

func (cls *ClassMeta) ValidFrom() PropertyMeta { return cls.validFrom }

func (cls *ClassMeta) Derived() []*ClassMeta {
	return append([]*ClassMeta(nil), cls.derived...)
}

// SubclassStrategy returns the strategy of the inheritance chain, which is
// declared on its root.
func (cls *ClassMeta) SubclassStrategy() SubclassStrategy {
	return cls.chainRoot().strategy
}

// Properties returns all properties, base class properties first, then in
// declaration order.
func (cls *ClassMeta) Properties() []PropertyMeta {
	return append([]PropertyMeta(nil), cls.props...)
}

func (cls *ClassMeta) PersistentProperties() []PropertyMeta {
	return append([]PropertyMeta(nil), cls.persistent...)
}

func (cls *ClassMeta) BusinessKeyProperties() []PropertyMeta {
	return append([]PropertyMeta(nil), cls.businessKey...)
}

// ChildKeyProperties returns the identity used inside owning collections.
// It falls back to the business key when no child key is declared.
func (cls *ClassMeta) ChildKeyProperties() []PropertyMeta {
	return append([]PropertyMeta(nil), cls.childKey...)
}

// Cascades returns the cascade of every reference-valued property.
func (cls *ClassMeta) Cascades() []*Cascade {
	return append([]*Cascade(nil), cls.cascades...)
}

func (cls *ClassMeta) PropertyNamed(name string) PropertyMeta {
	return cls.propsByName[name]
}

// New returns a new zero instance (a *T for the class's Go type T).
func (cls *ClassMeta) New() any {
	return cls.newFn()
}

// IsSubclassOf reports whether base is a strict ancestor of cls.
func (cls *ClassMeta) IsSubclassOf(base *ClassMeta) bool {
	for c := cls.base; c != nil; c = c.base {
		if c == base {
			return true
		}
	}
	return false
}

func (cls *ClassMeta) chainRoot() *ClassMeta {
	c := cls
	for c.base != nil {
		c = c.base
	}
	return c
}

func (cls *ClassMeta) declare(p PropertyMeta) {
	if cls.sealed {
		panic(fmt.Errorf("%s: cannot declare property %s after Seal", cls.name, p.Name()))
	}
	cls.declared = append(cls.declared, p)
}

// upcastTo returns a function converting an instance of cls into the
// embedded instance of its ancestor.
func (cls *ClassMeta) upcastTo(ancestor *ClassMeta) func(any) any {
	if cls == ancestor {
		return func(obj any) any { return obj }
	}
	up, rest := cls.upcast, cls.base.upcastTo(ancestor)
	return func(obj any) any { return rest(up(obj)) }
}
