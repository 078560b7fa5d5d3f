package edelta

// cloner deep-copies an object graph along owned relationships.
// Components are always copied; references are copied when their cascade
// owns the referenced entity, and shared otherwise (or redirected to the
// copy when the entity was already copied as part of the same graph).
type cloner struct {
	scm  *Schema
	seen map[any]any
}

// Clone returns a deep copy of obj suitable as a prior snapshot: every
// component and every owned entity is copied, non-owned references are
// shared with obj.
func (scm *Schema) Clone(obj any) any {
	c := cloner{scm: scm}
	return c.clone(normalizeNil(obj))
}

func (c *cloner) clone(obj any) any {
	if obj == nil {
		return nil
	}
	if copied, ok := c.seen[obj]; ok {
		return copied
	}
	if c.seen == nil {
		c.seen = make(map[any]any)
	}
	cls := c.scm.ClassOf(obj)
	copied := cls.New()
	c.seen[obj] = copied
	if cls.isEntity {
		copied.(Entity).SetObjectID(objectIDOf(obj))
	}
	for _, p := range cls.props {
		b := p.base()
		b.set(copied, p.cloneValue(c, b.get(obj)))
	}
	return copied
}

func (c *cloner) cloneRef(cascade *Cascade, obj any) any {
	if obj == nil {
		return nil
	}
	if cascade != nil && cascade.IsOwned() {
		return c.clone(obj)
	}
	if copied, ok := c.seen[obj]; ok {
		return copied
	}
	return obj
}
