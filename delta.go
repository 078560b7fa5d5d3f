package edelta

import (
	"fmt"
	"strings"
)

type DeltaKind int

const (
	DeltaScalar DeltaKind = iota + 1
	DeltaReference
	DeltaComponent
	DeltaKeyedCollection
	DeltaListCollection
	DeltaBagCollection
	DeltaSetCollection
	DeltaMapCollection
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaScalar:
		return "scalar"
	case DeltaReference:
		return "reference"
	case DeltaComponent:
		return "component"
	case DeltaKeyedCollection:
		return "keyed"
	case DeltaListCollection:
		return "list"
	case DeltaBagCollection:
		return "bag"
	case DeltaSetCollection:
		return "set"
	case DeltaMapCollection:
		return "map"
	default:
		return fmt.Sprintf("invalid delta kind %d", int(k))
	}
}

// ObjectDelta describes how one object differs between two snapshots.
//
// Object is the added object for Added, the removed object for Removed and
// the current object for Changed; Prior is set for Changed only.
// PropertyDeltas lists only differing persistent properties, in property
// order.
type ObjectDelta struct {
	Action         Action
	Class          *ClassMeta
	Key            Key
	Object         any
	Prior          any
	PropertyDeltas []PropertyDelta
}

// Delta returns the delta of the named property, or nil if it did not change.
func (od *ObjectDelta) Delta(name string) PropertyDelta {
	for _, pd := range od.PropertyDeltas {
		if pd.Property().Name() == name {
			return pd
		}
	}
	return nil
}

func (od *ObjectDelta) String() string {
	var buf strings.Builder
	od.format(&buf)
	return buf.String()
}

func (od *ObjectDelta) format(buf *strings.Builder) {
	buf.WriteString(od.Action.String())
	buf.WriteByte(' ')
	buf.WriteString(od.Class.name)
	if !od.Key.IsZero() {
		buf.WriteByte(' ')
		buf.WriteString(od.Key.String())
	}
	if len(od.PropertyDeltas) > 0 {
		buf.WriteString(" {")
		for i, pd := range od.PropertyDeltas {
			if i > 0 {
				buf.WriteString("; ")
			}
			buf.WriteString(pd.String())
		}
		buf.WriteByte('}')
	}
}

// PropertyDelta is the difference of one property. The implementations
// form a closed set: *ScalarDelta[V], *ReferenceDelta, *ComponentDelta and
// the collection deltas.
type PropertyDelta interface {
	Property() PropertyMeta
	Kind() DeltaKind
	String() string

	propertyDelta()
}

// ScalarDelta is a changed scalar value.
type ScalarDelta[V any] struct {
	Prop    PropertyMeta
	Prior   V
	Current V
	typ     *ScalarType[V]
}

func (d *ScalarDelta[V]) Property() PropertyMeta { return d.Prop }
func (d *ScalarDelta[V]) Kind() DeltaKind        { return DeltaScalar }
func (d *ScalarDelta[V]) propertyDelta()         {}

func (d *ScalarDelta[V]) String() string {
	return d.Prop.Name() + ": " + d.typ.format(d.Prior) + " -> " + d.typ.format(d.Current)
}

func (d *ScalarDelta[V]) PriorValue() any   { return d.Prior }
func (d *ScalarDelta[V]) CurrentValue() any { return d.Current }

func (d *ScalarDelta[V]) writeValues(w Writer) error {
	if err := w.WriteList(2); err != nil {
		return err
	}
	if err := d.typ.write(w, d.Prior); err != nil {
		return err
	}
	return d.typ.write(w, d.Current)
}

// scalarDelta is the type-erased view of *ScalarDelta[V].
type scalarDelta interface {
	PropertyDelta
	PriorValue() any
	CurrentValue() any
	writeValues(w Writer) error
}

// ReferenceDelta is a reference that now points at a different entity.
// The referenced entities' own changes are not part of it.
type ReferenceDelta struct {
	Prop       PropertyMeta
	Prior      any
	Current    any
	PriorKey   Key
	CurrentKey Key
}

func (d *ReferenceDelta) Property() PropertyMeta { return d.Prop }
func (d *ReferenceDelta) Kind() DeltaKind        { return DeltaReference }
func (d *ReferenceDelta) propertyDelta()         {}

func (d *ReferenceDelta) String() string {
	return d.Prop.Name() + ": " + formatKey(d.PriorKey, d.Prior) + " -> " + formatKey(d.CurrentKey, d.Current)
}

// ComponentDelta is a changed single value object: one Changed delta, one
// Added or Removed delta, or a Removed+Added pair when the object was
// replaced by one of another class or identity.
type ComponentDelta struct {
	Prop   PropertyMeta
	Deltas []*ObjectDelta
}

func (d *ComponentDelta) Property() PropertyMeta { return d.Prop }
func (d *ComponentDelta) Kind() DeltaKind        { return DeltaComponent }
func (d *ComponentDelta) propertyDelta()         {}

func (d *ComponentDelta) String() string {
	return d.Prop.Name() + ": " + formatObjectDeltas(d.Deltas)
}

func formatKey(k Key, obj any) string {
	if obj == nil {
		return "null"
	}
	if k.IsZero() {
		return "?"
	}
	return k.String()
}

func formatObjectDeltas(deltas []*ObjectDelta) string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, od := range deltas {
		if i > 0 {
			buf.WriteString(", ")
		}
		od.format(&buf)
	}
	buf.WriteByte(']')
	return buf.String()
}
