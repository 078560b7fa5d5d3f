package edelta

// DeltaNode is one entity in a delta tree. Children are the nodes of the
// child entities locked under this one, in lock order.
type DeltaNode struct {
	RootID   ObjectID
	ParentID ObjectID
	ObjectID ObjectID
	Class    *ClassMeta
	Prior    any
	Current  any
	Kind     LockKind

	// IsDirty is set for inserts, deletes and updates whose current state
	// differs from the prior snapshot.
	IsDirty bool

	// ChildIsDirty is set when any descendant is dirty.
	ChildIsDirty bool

	Children []*DeltaNode
	Lock     *EntityLock
}

// Walk visits n and its descendants in pre-order.
func (n *DeltaNode) Walk(f func(n *DeltaNode)) {
	f(n)
	for _, c := range n.Children {
		c.Walk(f)
	}
}

// Deltas returns the object deltas of this node alone: Added for inserts,
// Removed for deletes, the snapshot diff for updates.
func (n *DeltaNode) Deltas() []*ObjectDelta {
	scm := n.Class.schema
	switch n.Kind {
	case LockInsert:
		return []*ObjectDelta{{Action: Added, Class: n.Class, Key: scm.KeyOf(n.Current), Object: n.Current}}
	case LockDelete:
		return []*ObjectDelta{{Action: Removed, Class: n.Class, Key: scm.KeyOf(n.Prior), Object: n.Prior}}
	default:
		return scm.CreateDelta(n.Prior, n.Current)
	}
}

// CollectDeltas returns the deltas of every dirty node of the tree, parents
// before children.
func (n *DeltaNode) CollectDeltas() []*ObjectDelta {
	var result []*ObjectDelta
	n.Walk(func(n *DeltaNode) {
		if n.IsDirty {
			result = append(result, n.Deltas()...)
		}
	})
	return result
}

// CollectAuditEntries returns one audit entry per dirty node, parents
// before children. The payload is the current state encoded by enc.
func (n *DeltaNode) CollectAuditEntries(enc PayloadEncoder) ([]AuditEntry, error) {
	var result []AuditEntry
	var err error
	n.Walk(func(n *DeltaNode) {
		if !n.IsDirty || err != nil {
			return
		}
		e := AuditEntry{
			Action:         n.Kind.Action(),
			ObjectID:       n.ObjectID,
			RootObjectID:   n.RootID,
			ParentObjectID: n.ParentID,
			EntityID:       int32(n.Class.entityID),
		}
		if n.Kind != LockDelete {
			e.Payload, err = enc.EncodeObject(nil, n.Current)
			if err != nil {
				err = consistencyErrf("audit", n.ObjectID, n.Class, err, "")
				return
			}
		}
		result = append(result, e)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
