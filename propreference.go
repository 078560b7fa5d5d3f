package edelta

import (
	"cmp"
	"reflect"
)

// referenceProp holds a single entity reference, owned or not depending on
// its cascade.
type referenceProp struct {
	propBase
	elemType  reflect.Type
	elemClass *ClassMeta
}

// Reference declares a single entity reference. E is a pointer to a
// registered entity class, or an interface implemented by several.
// Pass a CascadeStrategy among opts to make the reference owning.
func Reference[T, E any](b *ClassBuilder[T], name string, field func(*T) *E, opts ...PropOption) PropertyMeta {
	p := &referenceProp{elemType: reflect.TypeFor[E]()}
	p.get = func(obj any) any {
		return boxObject(*field(obj.(*T)))
	}
	p.set = func(obj any, v any) {
		*field(obj.(*T)) = unboxObject[E](v)
	}
	p.init(p, b.cls, name, PropReference, ShapeNone, opts)
	return p
}

// References declares a list, bag or set of entity references. Membership
// is tracked by entity identity; the referenced entities are diffed on
// their own.
func References[T, E any](b *ClassBuilder[T], name string, shape CollectionShape, field func(*T) *[]E, opts ...PropOption) PropertyMeta {
	p := &collectionProp{elemType: reflect.TypeFor[E](), refs: true}
	p.get, p.set = sliceAccessors(field)
	p.init(p, b.cls, name, PropReferenceCollection, shape, opts)
	return p
}

func ReferenceMap[T any, K cmp.Ordered, E any](b *ClassBuilder[T], name string, keyType *ScalarType[K], field func(*T) *map[K]E, opts ...PropOption) PropertyMeta {
	p := &mapProp{keyType: keyType, compare: compareKeys[K], elemType: reflect.TypeFor[E](), refs: true}
	p.get, p.set = mapAccessors(field)
	p.init(p, b.cls, name, PropReferenceCollection, ShapeMap, opts)
	return p
}

func (p *referenceProp) ElemClass() *ClassMeta { return p.elemClass }

func (p *referenceProp) isDefaultValue(v any) bool {
	return v == nil
}

func (p *referenceProp) diff(d *differ, prior, current any) PropertyDelta {
	if d.sameIdentity(prior, current) {
		return nil
	}
	return &ReferenceDelta{
		Prop:       p,
		Prior:      prior,
		Current:    current,
		PriorKey:   d.scm.KeyOf(prior),
		CurrentKey: d.scm.KeyOf(current),
	}
}

func (p *referenceProp) cloneValue(c *cloner, v any) any {
	return c.cloneRef(p.cascade, v)
}

func (p *referenceProp) writeValue(w Writer, v any) error {
	return writeElem(p.owner.schema, w, v, true)
}

func (p *referenceProp) readValue(scm *Schema, r Reader) (any, error) {
	return readElem(scm, r, true)
}

func (p *referenceProp) readDelta(scm *Schema, r Reader) (PropertyDelta, error) {
	if err := expectLen(r.ReadList, 2, p); err != nil {
		return nil, err
	}
	prior, err := readElem(scm, r, true)
	if err != nil {
		return nil, err
	}
	current, err := readElem(scm, r, true)
	if err != nil {
		return nil, err
	}
	return &ReferenceDelta{
		Prop:       p,
		Prior:      prior,
		Current:    current,
		PriorKey:   scm.KeyOf(prior),
		CurrentKey: scm.KeyOf(current),
	}, nil
}

func (p *referenceProp) inherit(owner *ClassMeta, upcast func(any) any) PropertyMeta {
	c := *p
	c.propBase = p.propBase.inherited(owner, upcast)
	c.self = &c
	return &c
}

func (p *referenceProp) link(scm *Schema) []*ConfigError {
	errs := p.linkCommon()
	cls, err := scm.linkElem(&p.propBase, p.elemType, true)
	p.elemClass = cls
	p.cascade = newCascade(&p.propBase, cls)
	return appendErr(errs, err)
}
