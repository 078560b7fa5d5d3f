package edelta

import (
	"fmt"
	"reflect"
)

// ClassBuilder configures a class inside DefineEntity or DefineComponent.
// Properties are declared with the package-level helpers (String, Double,
// Components, Reference and so on), which take the builder as their first
// argument.
type ClassBuilder[T any] struct {
	cls *ClassMeta
}

// DefineEntity registers T as an entity class. *T must implement Entity,
// usually by embedding EntityBase.
func DefineEntity[T any](scm *Schema, name string, f func(b *ClassBuilder[T])) *ClassMeta {
	return defineClass(scm, name, true, f)
}

// DefineComponent registers T as a component (value object) class.
func DefineComponent[T any](scm *Schema, name string, f func(b *ClassBuilder[T])) *ClassMeta {
	return defineClass(scm, name, false, f)
}

func defineClass[T any](scm *Schema, name string, entity bool, f func(b *ClassBuilder[T])) *ClassMeta {
	scm.init()
	if scm.sealed {
		panic(fmt.Errorf("cannot define class %s after Seal", name))
	}
	cls := &ClassMeta{
		schema:   scm,
		name:     name,
		goType:   reflect.TypeFor[*T](),
		isEntity: entity,
		newFn:    func() any { return new(T) },
	}
	scm.addClass(cls)

	if f != nil {
		f(&ClassBuilder[T]{cls: cls})
	}
	return cls
}

func (b *ClassBuilder[T]) Class() *ClassMeta {
	return b.cls
}

// EntityID assigns the 15-bit type tag embedded in object ids of this class.
func (b *ClassBuilder[T]) EntityID(id int) {
	b.cls.entityID = id
}

// Child marks the entity as owned: it is only ever reachable through a parent.
func (b *ClassBuilder[T]) Child() {
	b.cls.child = true
}

func (b *ClassBuilder[T]) Abstract() {
	b.cls.abstract = true
}

// SubclassStrategy declares the mapping strategy of the inheritance chain
// rooted at this class.
func (b *ClassBuilder[T]) SubclassStrategy(s SubclassStrategy) {
	b.cls.strategy = s
}

// DefaultCascade sets the strategy used by reference properties of this
// chain that do not declare one.
func (b *ClassBuilder[T]) DefaultCascade(s CascadeStrategy) {
	b.cls.defaultCascade = s
	b.cls.defaultCascadeSet = true
}

// Extends declares that T derives from the class registered for B; upcast
// returns the B embedded in a T.
func Extends[T, B any](b *ClassBuilder[T], upcast func(*T) *B) {
	b.cls.baseType = reflect.TypeFor[*B]()
	b.cls.upcast = func(obj any) any {
		return upcast(obj.(*T))
	}
}
