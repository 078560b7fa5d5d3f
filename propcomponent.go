package edelta

import (
	"cmp"
	"maps"
	"reflect"
	"slices"
)

// componentProp holds a single owned value object.
type componentProp struct {
	propBase
	elemType  reflect.Type
	elemClass *ClassMeta
}

// collectionProp holds a list, bag or set of value objects or entity references.
type collectionProp struct {
	propBase
	elemType  reflect.Type
	elemClass *ClassMeta
	refs      bool
}

// mapProp holds value objects or entity references keyed by a scalar.
type mapProp struct {
	propBase
	keyType   scalarOps
	compare   func(a, b any) int
	elemType  reflect.Type
	elemClass *ClassMeta
	refs      bool
}

// Component declares a single value object property. C is a pointer to a
// registered component class, or an interface implemented by several.
func Component[T, C any](b *ClassBuilder[T], name string, field func(*T) *C, opts ...PropOption) PropertyMeta {
	p := &componentProp{elemType: reflect.TypeFor[C]()}
	p.get = func(obj any) any {
		return boxObject(*field(obj.(*T)))
	}
	p.set = func(obj any, v any) {
		*field(obj.(*T)) = unboxObject[C](v)
	}
	p.init(p, b.cls, name, PropComponent, ShapeNone, opts)
	return p
}

// Components declares a collection of value objects with the given shape
// (ShapeList, ShapeBag or ShapeSet).
func Components[T, C any](b *ClassBuilder[T], name string, shape CollectionShape, field func(*T) *[]C, opts ...PropOption) PropertyMeta {
	p := &collectionProp{elemType: reflect.TypeFor[C]()}
	p.get, p.set = sliceAccessors(field)
	p.init(p, b.cls, name, PropComponentCollection, shape, opts)
	return p
}

// ComponentMap declares a map of value objects keyed by a scalar of type keyType.
func ComponentMap[T any, K cmp.Ordered, C any](b *ClassBuilder[T], name string, keyType *ScalarType[K], field func(*T) *map[K]C, opts ...PropOption) PropertyMeta {
	p := &mapProp{keyType: keyType, compare: compareKeys[K], elemType: reflect.TypeFor[C]()}
	p.get, p.set = mapAccessors(field)
	p.init(p, b.cls, name, PropComponentCollection, ShapeMap, opts)
	return p
}

func sliceAccessors[T, C any](field func(*T) *[]C) (func(any) any, func(any, any)) {
	get := func(obj any) any {
		s := *field(obj.(*T))
		if len(s) == 0 {
			return nil
		}
		items := make([]any, 0, len(s))
		for _, v := range s {
			if item := boxObject(v); item != nil {
				items = append(items, item)
			}
		}
		return items
	}
	set := func(obj any, v any) {
		items := unbox[[]any](v)
		if len(items) == 0 {
			*field(obj.(*T)) = nil
			return
		}
		s := make([]C, 0, len(items))
		for _, item := range items {
			s = append(s, unboxObject[C](item))
		}
		*field(obj.(*T)) = s
	}
	return get, set
}

func mapAccessors[T any, K cmp.Ordered, C any](field func(*T) *map[K]C) (func(any) any, func(any, any)) {
	get := func(obj any) any {
		m := *field(obj.(*T))
		if len(m) == 0 {
			return nil
		}
		entries := make([]MapEntry, 0, len(m))
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if v := boxObject(m[k]); v != nil {
				entries = append(entries, MapEntry{k, v})
			}
		}
		return entries
	}
	set := func(obj any, v any) {
		entries := unbox[[]MapEntry](v)
		if len(entries) == 0 {
			*field(obj.(*T)) = nil
			return
		}
		m := make(map[K]C, len(entries))
		for _, e := range entries {
			m[unbox[K](e.Key)] = unboxObject[C](e.Value)
		}
		*field(obj.(*T)) = m
	}
	return get, set
}

func compareKeys[K cmp.Ordered](a, b any) int {
	return cmp.Compare(unbox[K](a), unbox[K](b))
}

// ElemClass returns the class of the elements, or nil when elements are
// held through an interface and resolved per object.
func (p *componentProp) ElemClass() *ClassMeta  { return p.elemClass }
func (p *collectionProp) ElemClass() *ClassMeta { return p.elemClass }
func (p *mapProp) ElemClass() *ClassMeta        { return p.elemClass }

func (p *componentProp) isDefaultValue(v any) bool {
	return v == nil
}

func (p *componentProp) diff(d *differ, prior, current any) PropertyDelta {
	deltas := d.objectDeltas(prior, current)
	if len(deltas) == 0 {
		return nil
	}
	return &ComponentDelta{Prop: p, Deltas: deltas}
}

func (p *componentProp) cloneValue(c *cloner, v any) any {
	return c.clone(v)
}

func (p *componentProp) writeValue(w Writer, v any) error {
	return p.owner.schema.WriteObject(w, v)
}

func (p *componentProp) readValue(scm *Schema, r Reader) (any, error) {
	return scm.ReadObject(r)
}

func (p *componentProp) readDelta(scm *Schema, r Reader) (PropertyDelta, error) {
	deltas, err := scm.readObjectDeltas(r, false)
	if err != nil {
		return nil, err
	}
	return &ComponentDelta{Prop: p, Deltas: deltas}, nil
}

func (p *componentProp) inherit(owner *ClassMeta, upcast func(any) any) PropertyMeta {
	c := *p
	c.propBase = p.propBase.inherited(owner, upcast)
	c.self = &c
	return &c
}

func (p *componentProp) link(scm *Schema) []*ConfigError {
	errs := p.linkCommon()
	cls, err := scm.linkElem(&p.propBase, p.elemType, false)
	p.elemClass = cls
	return appendErr(errs, err)
}

func (p *collectionProp) isDefaultValue(v any) bool {
	return len(unbox[[]any](v)) == 0
}

func (p *collectionProp) diff(d *differ, prior, current any) PropertyDelta {
	return d.collectionDelta(p, unbox[[]any](prior), unbox[[]any](current))
}

func (p *collectionProp) cloneValue(c *cloner, v any) any {
	items := unbox[[]any](v)
	if len(items) == 0 {
		return nil
	}
	clone := make([]any, len(items))
	for i, item := range items {
		if p.refs {
			clone[i] = c.cloneRef(p.cascade, item)
		} else {
			clone[i] = c.clone(item)
		}
	}
	return clone
}

func (p *collectionProp) writeValue(w Writer, v any) error {
	items := unbox[[]any](v)
	var err error
	if p.shape == ShapeSet {
		err = w.WriteSet(len(items))
	} else {
		err = w.WriteList(len(items))
	}
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := writeElem(p.owner.schema, w, item, p.refs); err != nil {
			return err
		}
	}
	return nil
}

func (p *collectionProp) readValue(scm *Schema, r Reader) (any, error) {
	var n int
	var err error
	if p.shape == ShapeSet {
		n, err = r.ReadSet()
	} else {
		n, err = r.ReadList()
	}
	if err != nil || n == 0 {
		return nil, err
	}
	items := make([]any, 0, n)
	for range n {
		item, err := readElem(scm, r, p.refs)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

func (p *collectionProp) readDelta(scm *Schema, r Reader) (PropertyDelta, error) {
	if p.keyed() {
		items, err := scm.readObjectDeltas(r, p.refs)
		if err != nil {
			return nil, err
		}
		return &KeyedCollectionDelta{Prop: p, Items: items, byRef: p.refs}, nil
	}
	items, err := readItemDeltas(scm, r, p.refs, nil)
	if err != nil {
		return nil, err
	}
	switch p.shape {
	case ShapeList:
		return &ListCollectionDelta{Prop: p, Items: items}, nil
	case ShapeBag:
		return &BagCollectionDelta{Prop: p, Items: items}, nil
	default:
		return &SetCollectionDelta{Prop: p, Items: items}, nil
	}
}

// keyed reports whether items are matched by identity rather than by
// position or value. Entity references are always keyed.
func (p *collectionProp) keyed() bool {
	return p.refs || (p.elemClass != nil && len(p.elemClass.childKey) > 0)
}

func (p *collectionProp) inherit(owner *ClassMeta, upcast func(any) any) PropertyMeta {
	c := *p
	c.propBase = p.propBase.inherited(owner, upcast)
	c.self = &c
	return &c
}

func (p *collectionProp) link(scm *Schema) []*ConfigError {
	errs := p.linkCommon()
	if p.shape != ShapeList && p.shape != ShapeBag && p.shape != ShapeSet {
		errs = append(errs, configErrf(p.owner, p.name, "invalid collection shape %v", p.shape))
	}
	cls, err := scm.linkElem(&p.propBase, p.elemType, p.refs)
	p.elemClass = cls
	errs = appendErr(errs, err)
	if p.refs {
		p.cascade = newCascade(&p.propBase, cls)
	}
	return errs
}

func (p *mapProp) isDefaultValue(v any) bool {
	return len(unbox[[]MapEntry](v)) == 0
}

func (p *mapProp) diff(d *differ, prior, current any) PropertyDelta {
	return d.mapDelta(p, unbox[[]MapEntry](prior), unbox[[]MapEntry](current))
}

func (p *mapProp) cloneValue(c *cloner, v any) any {
	entries := unbox[[]MapEntry](v)
	if len(entries) == 0 {
		return nil
	}
	clone := make([]MapEntry, len(entries))
	for i, e := range entries {
		clone[i].Key = p.keyType.cloneAny(e.Key)
		if p.refs {
			clone[i].Value = c.cloneRef(p.cascade, e.Value)
		} else {
			clone[i].Value = c.clone(e.Value)
		}
	}
	return clone
}

func (p *mapProp) writeValue(w Writer, v any) error {
	entries := unbox[[]MapEntry](v)
	if err := w.WriteMap(len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := p.keyType.writeAny(w, e.Key); err != nil {
			return err
		}
		if err := writeElem(p.owner.schema, w, e.Value, p.refs); err != nil {
			return err
		}
	}
	return nil
}

func (p *mapProp) readValue(scm *Schema, r Reader) (any, error) {
	n, err := r.ReadMap()
	if err != nil || n == 0 {
		return nil, err
	}
	entries := make([]MapEntry, 0, n)
	for range n {
		k, err := p.keyType.readAny(r)
		if err != nil {
			return nil, err
		}
		v, err := readElem(scm, r, p.refs)
		if err != nil {
			return nil, err
		}
		if v != nil {
			entries = append(entries, MapEntry{k, v})
		}
	}
	slices.SortFunc(entries, func(a, b MapEntry) int { return p.compare(a.Key, b.Key) })
	return entries, nil
}

func (p *mapProp) readDelta(scm *Schema, r Reader) (PropertyDelta, error) {
	items, err := readItemDeltas(scm, r, p.refs, p.keyType)
	if err != nil {
		return nil, err
	}
	return &MapCollectionDelta{Prop: p, Items: items}, nil
}

func (p *mapProp) inherit(owner *ClassMeta, upcast func(any) any) PropertyMeta {
	c := *p
	c.propBase = p.propBase.inherited(owner, upcast)
	c.self = &c
	return &c
}

func (p *mapProp) link(scm *Schema) []*ConfigError {
	errs := p.linkCommon()
	cls, err := scm.linkElem(&p.propBase, p.elemType, p.refs)
	p.elemClass = cls
	errs = appendErr(errs, err)
	if p.refs {
		p.cascade = newCascade(&p.propBase, cls)
	}
	return errs
}

// linkElem resolves the class of the objects a property holds.
func (scm *Schema) linkElem(p *propBase, t reflect.Type, refs bool) (*ClassMeta, *ConfigError) {
	switch t.Kind() {
	case reflect.Interface:
		return nil, nil
	case reflect.Pointer:
		cls := scm.classesByType[t]
		if cls == nil {
			return nil, configErrf(p.owner, p.name, "refers to unregistered type %v", t)
		}
		if refs && !cls.isEntity {
			return nil, configErrf(p.owner, p.name, "references component class %s, use a component property", cls.name)
		}
		if !refs && cls.isEntity {
			return nil, configErrf(p.owner, p.name, "holds entity class %s by value, use a reference property", cls.name)
		}
		return cls, nil
	default:
		return nil, configErrf(p.owner, p.name, "element type %v must be a pointer to a registered class or an interface", t)
	}
}

func appendErr(errs []*ConfigError, err *ConfigError) []*ConfigError {
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}
