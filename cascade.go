package edelta

import (
	"fmt"
	"iter"
)

// CascadeStrategy declares which lock kinds propagate from an owner to the
// objects it references. It is also a PropOption for reference properties.
type CascadeStrategy int

const (
	CascadeNone CascadeStrategy = iota
	CascadeSaveUpdate
	CascadeAll
	CascadeAllDeleteOrphan
)

func (s CascadeStrategy) applyTo(p *propBase) {
	p.strategy = s
	p.strategySet = true
}

func (s CascadeStrategy) String() string {
	switch s {
	case CascadeNone:
		return "none"
	case CascadeSaveUpdate:
		return "save-update"
	case CascadeAll:
		return "all"
	case CascadeAllDeleteOrphan:
		return "all-delete-orphan"
	default:
		return fmt.Sprintf("invalid cascade strategy %d", int(s))
	}
}

// ShouldCascade reports whether a lock of the given kind propagates under
// strategy. Insert and Update propagate under save-update, all and
// all-delete-orphan; Delete only under all and all-delete-orphan.
func ShouldCascade(kind LockKind, strategy CascadeStrategy) bool {
	switch kind {
	case LockInsert, LockUpdate:
		return strategy == CascadeSaveUpdate || strategy == CascadeAll || strategy == CascadeAllDeleteOrphan
	case LockDelete:
		return strategy == CascadeAll || strategy == CascadeAllDeleteOrphan
	default:
		return false
	}
}

// Cascade is the cascade capability of a reference-valued property.
type Cascade struct {
	prop       *propBase
	strategy   CascadeStrategy
	referenced *ClassMeta
	inverse    bool
	joinKey    string
	mirror     *Cascade
}

func newCascade(p *propBase, referenced *ClassMeta) *Cascade {
	c := &Cascade{
		prop:       p,
		strategy:   p.strategy,
		referenced: referenced,
		inverse:    p.flags&InverseProp != 0,
		joinKey:    p.joinKey,
	}
	if !p.strategySet {
		c.strategy = p.owner.chainRoot().defaultCascade
	}
	return c
}

func (c *Cascade) Property() PropertyMeta    { return c.prop.self }
func (c *Cascade) Owner() *ClassMeta         { return c.prop.owner }
func (c *Cascade) Strategy() CascadeStrategy { return c.strategy }
func (c *Cascade) IsInverse() bool           { return c.inverse }
func (c *Cascade) JoinKey() string           { return c.joinKey }

// ReferencedClass returns the declared class of referenced objects, or nil
// when the reference is held through an interface.
func (c *Cascade) ReferencedClass() *ClassMeta {
	return c.referenced
}

// InverseCascade returns the mirror cascade on the other side of a
// bidirectional relationship, if any.
func (c *Cascade) InverseCascade() *Cascade {
	return c.mirror
}

// ReferencedObjects yields the objects owner currently references through
// this property. A nil owner or an empty collection yields nothing.
func (c *Cascade) ReferencedObjects(owner any) iter.Seq[any] {
	return func(yield func(any) bool) {
		if owner == nil {
			return
		}
		switch v := c.prop.self.Get(owner).(type) {
		case nil:
		case []any:
			for _, item := range v {
				if !yield(item) {
					return
				}
			}
		case []MapEntry:
			for _, e := range v {
				if !yield(e.Value) {
					return
				}
			}
		default:
			yield(v)
		}
	}
}

// ShouldCascade reports whether a lock of kind propagates through this
// cascade. Inverse cascades never propagate.
func (c *Cascade) ShouldCascade(kind LockKind) bool {
	return !c.inverse && ShouldCascade(kind, c.strategy)
}

// IsOwned reports whether the owner is responsible for the referenced
// objects' persistence.
func (c *Cascade) IsOwned() bool {
	return !c.inverse && c.strategy != CascadeNone
}

// DeletesOrphans reports whether an object dropped from this reference
// must be deleted: under all-delete-orphan, and under all when the
// referenced object is a child entity, which cannot outlive its parent.
func (c *Cascade) DeletesOrphans(referenced *ClassMeta) bool {
	if c.inverse {
		return false
	}
	switch c.strategy {
	case CascadeAllDeleteOrphan:
		return true
	case CascadeAll:
		return referenced != nil && referenced.IsChildEntity()
	default:
		return false
	}
}

// FindInverse returns the cascade on the referenced class that points back
// at the owner's class (or one of its bases) with the same join key.
func (c *Cascade) FindInverse() *Cascade {
	if c.referenced == nil {
		return nil
	}
	owner := c.prop.owner
	for _, m := range c.referenced.cascades {
		if m == c || m.joinKey != c.joinKey || m.referenced == nil {
			continue
		}
		if owner == m.referenced || owner.IsSubclassOf(m.referenced) {
			return m
		}
	}
	return nil
}

func (c *Cascade) String() string {
	s := c.prop.self.String() + " (" + c.strategy.String()
	if c.inverse {
		s += ", inverse"
	}
	return s + ")"
}
