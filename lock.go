package edelta

import (
	"fmt"
)

// EntityLock records the persistence intent for one entity within a unit
// of work. There is at most one lock per object id; its kind only ever
// moves from Update to Delete.
type EntityLock struct {
	ID    ObjectID
	Kind  LockKind
	Class *ClassMeta

	// Prior is the snapshot the entity is compared against; nil for Insert.
	Prior any

	// Current is the live object; nil for Delete.
	Current any

	// Parent is the lock of the owning entity for child entities locked
	// through a cascade, nil for roots.
	Parent *EntityLock

	// Synthesized is set for locks created by the unit of work itself:
	// inserts of new children and deletes of orphans.
	Synthesized bool

	live     any
	seq      int
	children []*EntityLock
}

// Root returns the topmost ancestor of the lock (the lock itself for roots).
func (lk *EntityLock) Root() *EntityLock {
	r := lk
	for r.Parent != nil {
		r = r.Parent
	}
	return r
}

// Seq is the order in which the lock was first requested.
func (lk *EntityLock) Seq() int {
	return lk.seq
}

// Children returns the locks whose Parent is lk, in request order.
func (lk *EntityLock) Children() []*EntityLock {
	return append([]*EntityLock(nil), lk.children...)
}

func (lk *EntityLock) String() string {
	return fmt.Sprintf("%s %s:%v", lk.Kind, lk.Class.name, lk.ID)
}

func (lk *EntityLock) setParent(parent *EntityLock) {
	lk.Parent = parent
	parent.children = append(parent.children, lk)
}
