package edelta

import (
	"fmt"
	"strings"
)

// KeyedCollectionDelta lists per-item object deltas of a collection whose
// items carry identity: components with a child key, and entity
// references. Removed items come first in prior order, then Added and
// Changed items in current order. Reference collections only report
// membership (Added/Removed).
type KeyedCollectionDelta struct {
	Prop  PropertyMeta
	Items []*ObjectDelta
	byRef bool
}

// ItemDelta is one Added, Removed or Changed record of an unkeyed
// collection or a map. Index is the position in a list (-1 otherwise) and
// Key is the map key (nil otherwise). For Changed component items, Deltas
// holds the object deltas; for Changed references, Prior and Current hold
// the two referenced entities.
type ItemDelta struct {
	Action  Action
	Index   int
	Key     any
	Prior   any
	Current any
	Deltas  []*ObjectDelta
}

// ListCollectionDelta compares an unkeyed list positionally.
type ListCollectionDelta struct {
	Prop  PropertyMeta
	Items []*ItemDelta
}

// BagCollectionDelta compares an unkeyed bag by value identity, ignoring
// positions and multiplicity.
type BagCollectionDelta struct {
	Prop  PropertyMeta
	Items []*ItemDelta
}

// SetCollectionDelta compares a set by membership.
type SetCollectionDelta struct {
	Prop  PropertyMeta
	Items []*ItemDelta
}

// MapCollectionDelta compares a map per key, in key order.
type MapCollectionDelta struct {
	Prop  PropertyMeta
	Items []*ItemDelta
}

func (d *KeyedCollectionDelta) Property() PropertyMeta { return d.Prop }
func (d *KeyedCollectionDelta) Kind() DeltaKind        { return DeltaKeyedCollection }
func (d *KeyedCollectionDelta) propertyDelta()         {}
func (d *KeyedCollectionDelta) IsReferenceCollection() bool {
	return d.byRef
}

func (d *KeyedCollectionDelta) String() string {
	return d.Prop.Name() + ": " + formatObjectDeltas(d.Items)
}

func (d *ListCollectionDelta) Property() PropertyMeta { return d.Prop }
func (d *ListCollectionDelta) Kind() DeltaKind        { return DeltaListCollection }
func (d *ListCollectionDelta) propertyDelta()         {}
func (d *ListCollectionDelta) String() string         { return formatItems(d.Prop, d.Items) }

func (d *BagCollectionDelta) Property() PropertyMeta { return d.Prop }
func (d *BagCollectionDelta) Kind() DeltaKind        { return DeltaBagCollection }
func (d *BagCollectionDelta) propertyDelta()         {}
func (d *BagCollectionDelta) String() string         { return formatItems(d.Prop, d.Items) }

func (d *SetCollectionDelta) Property() PropertyMeta { return d.Prop }
func (d *SetCollectionDelta) Kind() DeltaKind        { return DeltaSetCollection }
func (d *SetCollectionDelta) propertyDelta()         {}
func (d *SetCollectionDelta) String() string         { return formatItems(d.Prop, d.Items) }

func (d *MapCollectionDelta) Property() PropertyMeta { return d.Prop }
func (d *MapCollectionDelta) Kind() DeltaKind        { return DeltaMapCollection }
func (d *MapCollectionDelta) propertyDelta()         {}
func (d *MapCollectionDelta) String() string         { return formatItems(d.Prop, d.Items) }

// itemDeltas returns the items of any unkeyed collection delta.
func itemDeltas(d PropertyDelta) []*ItemDelta {
	switch d := d.(type) {
	case *ListCollectionDelta:
		return d.Items
	case *BagCollectionDelta:
		return d.Items
	case *SetCollectionDelta:
		return d.Items
	case *MapCollectionDelta:
		return d.Items
	default:
		return nil
	}
}

func (item *ItemDelta) String() string {
	var buf strings.Builder
	buf.WriteString(item.Action.String())
	if item.Key != nil {
		fmt.Fprintf(&buf, " [%v]", item.Key)
	} else if item.Index >= 0 {
		fmt.Fprintf(&buf, " #%d", item.Index)
	}
	if len(item.Deltas) > 0 {
		buf.WriteByte(' ')
		buf.WriteString(formatObjectDeltas(item.Deltas))
	}
	return buf.String()
}

func formatItems(p PropertyMeta, items []*ItemDelta) string {
	var buf strings.Builder
	buf.WriteString(p.Name())
	buf.WriteString(": [")
	for i, item := range items {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(item.String())
	}
	buf.WriteByte(']')
	return buf.String()
}
