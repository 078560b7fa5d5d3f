package edelta

import (
	"slices"
)

func (d *differ) collectionDelta(p *collectionProp, prior, current []any) PropertyDelta {
	if p.keyed() {
		items := d.keyedItems(prior, current, p.refs)
		if len(items) == 0 {
			return nil
		}
		return &KeyedCollectionDelta{Prop: p, Items: items, byRef: p.refs}
	}

	switch p.shape {
	case ShapeList:
		if items := d.listItems(prior, current); len(items) > 0 {
			return &ListCollectionDelta{Prop: p, Items: items}
		}
	case ShapeBag:
		if items := d.unorderedItems(prior, current); len(items) > 0 {
			return &BagCollectionDelta{Prop: p, Items: items}
		}
	default:
		if items := d.unorderedItems(prior, current); len(items) > 0 {
			return &SetCollectionDelta{Prop: p, Items: items}
		}
	}
	return nil
}

// keyedItems matches items by identity, ignoring order. Items sharing a key
// pair up by occurrence; surplus ones are Removed or Added. Removed items are
// reported in prior order, then Added and Changed ones in current order.
// With byRef only membership is compared.
func (d *differ) keyedItems(prior, current []any, byRef bool) []*ObjectDelta {
	priorByKey := make(map[string][]any, len(prior))
	priorKeys := make([]string, len(prior))
	for i, item := range prior {
		k := d.scm.identity(item)
		priorKeys[i] = k
		priorByKey[k] = append(priorByKey[k], item)
	}
	currentKeys := make([]string, len(current))
	currentCount := make(map[string]int, len(current))
	for i, item := range current {
		k := d.scm.identity(item)
		currentKeys[i] = k
		currentCount[k]++
	}

	var result []*ObjectDelta
	seen := make(map[string]int, len(prior))
	for i, item := range prior {
		k := priorKeys[i]
		seen[k]++
		if seen[k] > currentCount[k] {
			if d.probe {
				return probeHit
			}
			result = append(result, d.removed(item))
		}
	}
	clear(seen)
	for i, item := range current {
		k := currentKeys[i]
		n := seen[k]
		seen[k]++
		if n >= len(priorByKey[k]) {
			if d.probe {
				return probeHit
			}
			result = append(result, d.added(item))
			continue
		}
		if byRef {
			continue
		}
		if deltas := d.objectDeltas(priorByKey[k][n], item); len(deltas) > 0 {
			if d.probe {
				return probeHit
			}
			result = append(result, deltas...)
		}
	}
	return result
}

// listItems compares positionally: Changed at shared indices, then Removed
// or Added at the trailing indices of the longer side.
func (d *differ) listItems(prior, current []any) []*ItemDelta {
	var result []*ItemDelta
	n := min(len(prior), len(current))
	for i := range n {
		if deltas := d.objectDeltas(prior[i], current[i]); len(deltas) > 0 {
			result = append(result, &ItemDelta{Action: Changed, Index: i, Prior: prior[i], Current: current[i], Deltas: deltas})
			if d.probe {
				return result
			}
		}
	}
	for i := n; i < len(prior); i++ {
		result = append(result, &ItemDelta{Action: Removed, Index: i, Prior: prior[i]})
		if d.probe {
			return result
		}
	}
	for i := n; i < len(current); i++ {
		result = append(result, &ItemDelta{Action: Added, Index: i, Current: current[i]})
		if d.probe {
			return result
		}
	}
	return result
}

// unorderedItems compares bags and sets by value identity: an item is
// Removed when no current item is the same, Added when no prior item is.
// Multiplicity is not tracked.
func (d *differ) unorderedItems(prior, current []any) []*ItemDelta {
	probe := differ{scm: d.scm, probe: true}
	same := func(a, b any) bool {
		return len(probe.objectDeltas(a, b)) == 0
	}

	var result []*ItemDelta
	for _, item := range prior {
		if !slices.ContainsFunc(current, func(c any) bool { return same(item, c) }) {
			result = append(result, &ItemDelta{Action: Removed, Index: -1, Prior: item})
			if d.probe {
				return result
			}
		}
	}
	for _, item := range current {
		if !slices.ContainsFunc(prior, func(p any) bool { return same(p, item) }) {
			result = append(result, &ItemDelta{Action: Added, Index: -1, Current: item})
			if d.probe {
				return result
			}
		}
	}
	return result
}

// mapDelta walks the sorted union of keys. References compare by identity;
// value objects recurse into object deltas.
func (d *differ) mapDelta(p *mapProp, prior, current []MapEntry) PropertyDelta {
	var items []*ItemDelta
	i, j := 0, 0
	for i < len(prior) || j < len(current) {
		var item *ItemDelta
		var c int
		switch {
		case i >= len(prior):
			c = 1
		case j >= len(current):
			c = -1
		default:
			c = p.compare(prior[i].Key, current[j].Key)
		}

		switch {
		case c < 0:
			item = &ItemDelta{Action: Removed, Index: -1, Key: prior[i].Key, Prior: prior[i].Value}
			i++
		case c > 0:
			item = &ItemDelta{Action: Added, Index: -1, Key: current[j].Key, Current: current[j].Value}
			j++
		default:
			pv, cv := prior[i].Value, current[j].Value
			if p.refs {
				if !d.sameIdentity(pv, cv) {
					item = &ItemDelta{Action: Changed, Index: -1, Key: current[j].Key, Prior: pv, Current: cv}
				}
			} else if deltas := d.objectDeltas(pv, cv); len(deltas) > 0 {
				item = &ItemDelta{Action: Changed, Index: -1, Key: current[j].Key, Prior: pv, Current: cv, Deltas: deltas}
			}
			i++
			j++
		}

		if item != nil {
			items = append(items, item)
			if d.probe {
				break
			}
		}
	}
	if len(items) == 0 {
		return nil
	}
	return &MapCollectionDelta{Prop: p, Items: items}
}
