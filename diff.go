package edelta

// differ compares snapshots. The same routine serves CreateDelta and
// IsSame: in probe mode it stops at the first difference and returns a
// partial (but non-nil) result.
type differ struct {
	scm   *Schema
	probe bool
}

// probeHit stands in for a delta in probe mode, where only its presence
// matters.
var probeHit = []*ObjectDelta{{}}

// CreateDelta compares two snapshots of an object:
//
//   - both nil: no delta;
//   - one nil: an Added or Removed delta wrapping the other;
//   - different classes or identities: a Removed+Added pair;
//   - otherwise a Changed delta listing every differing persistent
//     property, or nil when none differs.
//
// CreateDelta never fails.
func (scm *Schema) CreateDelta(prior, current any) []*ObjectDelta {
	d := differ{scm: scm}
	return d.objectDeltas(normalizeNil(prior), normalizeNil(current))
}

// IsSame reports whether CreateDelta(prior, current) would return no delta.
func (scm *Schema) IsSame(prior, current any) bool {
	d := differ{scm: scm, probe: true}
	return len(d.objectDeltas(normalizeNil(prior), normalizeNil(current))) == 0
}

func (d *differ) objectDeltas(prior, current any) []*ObjectDelta {
	switch {
	case prior == nil && current == nil:
		return nil
	case prior == nil:
		return d.single(d.added(current))
	case current == nil:
		return d.single(d.removed(prior))
	case prior == current:
		return nil
	}

	cls := d.scm.ClassOf(prior)
	if cls != d.scm.ClassOf(current) || !d.sameIdentity(prior, current) {
		if d.probe {
			return probeHit
		}
		return []*ObjectDelta{d.removed(prior), d.added(current)}
	}

	var deltas []PropertyDelta
	for _, p := range cls.persistent {
		b := p.base()
		if pd := p.diff(d, b.get(prior), b.get(current)); pd != nil {
			if d.probe {
				return probeHit
			}
			deltas = append(deltas, pd)
		}
	}
	if len(deltas) == 0 {
		return nil
	}
	return []*ObjectDelta{{
		Action:         Changed,
		Class:          cls,
		Key:            d.scm.KeyOf(current),
		Object:         current,
		Prior:          prior,
		PropertyDeltas: deltas,
	}}
}

func (d *differ) single(od *ObjectDelta) []*ObjectDelta {
	if d.probe {
		return probeHit
	}
	return []*ObjectDelta{od}
}

func (d *differ) added(obj any) *ObjectDelta {
	if d.probe {
		return probeHit[0]
	}
	return &ObjectDelta{Action: Added, Class: d.scm.ClassOf(obj), Key: d.scm.KeyOf(obj), Object: obj}
}

func (d *differ) removed(obj any) *ObjectDelta {
	if d.probe {
		return probeHit[0]
	}
	return &ObjectDelta{Action: Removed, Class: d.scm.ClassOf(obj), Key: d.scm.KeyOf(obj), Object: obj}
}

// sameIdentity decides whether two objects are versions of the same
// object. Entities compare by object id when both have one, otherwise by
// business key; components compare by child key. Objects without any
// identity are the same when their classes match.
func (d *differ) sameIdentity(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	ca, cb := d.scm.ClassOf(a), d.scm.ClassOf(b)
	if ca.isEntity {
		ida, idb := objectIDOf(a), objectIDOf(b)
		if ida != 0 && idb != 0 {
			return ida == idb
		}
		return ca == cb && sameKey(ca.businessKey, a, b)
	}
	return ca == cb && sameKey(ca.childKey, a, b)
}

func sameKey(props []PropertyMeta, a, b any) bool {
	for _, p := range props {
		sp := p.(*scalarProp)
		if !sp.typ.equalAny(sp.get(a), sp.get(b)) {
			return false
		}
	}
	return true
}

func normalizeNil(v any) any {
	if isNil(v) {
		return nil
	}
	return v
}
