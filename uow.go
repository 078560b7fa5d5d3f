package edelta

import (
	"context"
	"fmt"
	"log/slog"
)

type Options struct {
	Context context.Context

	// View serves prior snapshots of persisted entities. Without a view,
	// the prior snapshot is a deep clone of the object taken at lock time,
	// so objects must be locked before they are modified.
	View SnapshotView

	// Encoder encodes audit payloads; defaults to Schema.MsgPack().
	Encoder PayloadEncoder

	Logger  *slog.Logger
	Verbose bool
	Metrics *Metrics
}

// UnitOfWork tracks the entities touched by one logical operation and
// turns them into a delta forest and audit entries on Complete.
//
// A unit of work is not safe for concurrent use. The first consistency
// error is sticky: every later call returns it.
type UnitOfWork struct {
	scm     *Schema
	context context.Context
	view    SnapshotView
	enc     PayloadEncoder
	logger  *slog.Logger
	verbose bool
	metrics *Metrics

	locks      map[ObjectID]*EntityLock
	order      []*EntityLock
	registered []any
	seqs       map[int]uint64

	err  error
	done bool
}

// ChangeSet is the outcome of a completed unit of work.
type ChangeSet struct {
	// Nodes holds one delta tree per root lock, in lock order.
	Nodes   []*DeltaNode
	Deltas  []*ObjectDelta
	Entries []AuditEntry
}

// Begin starts a unit of work. The schema must be sealed.
func (scm *Schema) Begin(o Options) *UnitOfWork {
	scm.mustBeSealed()
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Encoder == nil {
		o.Encoder = scm.MsgPack()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Metrics.unitBegun()
	return &UnitOfWork{
		scm:     scm,
		context: o.Context,
		view:    o.View,
		enc:     o.Encoder,
		logger:  o.Logger,
		verbose: o.Verbose,
		metrics: o.Metrics,
		locks:   make(map[ObjectID]*EntityLock),
		seqs:    make(map[int]uint64),
	}
}

// Run executes f inside a new unit of work and completes it when f
// succeeds. A panic inside f is recovered and returned as an error; the
// unit of work is discarded in that case.
func (scm *Schema) Run(o Options, sink AuditSink, f func(u *UnitOfWork) error) (*ChangeSet, error) {
	u := scm.Begin(o)
	if err := safelyCall(f, u); err != nil {
		u.Discard()
		return nil, err
	}
	return u.Complete(sink)
}

func (u *UnitOfWork) Schema() *Schema {
	return u.scm
}

// Err returns the sticky error of the unit of work, ErrCompleted after
// Complete or Discard, or nil.
func (u *UnitOfWork) Err() error {
	if u.err != nil {
		return u.err
	}
	if u.done {
		return ErrCompleted
	}
	return nil
}

func (u *UnitOfWork) fail(err error) error {
	if u.err == nil {
		u.err = err
		u.logger.LogAttrs(u.context, slog.LevelError, "uow: failed", slog.Any("err", err))
	}
	return u.err
}

// Lock returns the lock held on id, or nil.
func (u *UnitOfWork) Lock(id ObjectID) *EntityLock {
	if id.IsZero() {
		return nil
	}
	return u.locks[id]
}

// Locks returns every lock in request order.
func (u *UnitOfWork) Locks() []*EntityLock {
	return append([]*EntityLock(nil), u.order...)
}

// RootLocks returns the locks without a parent, in request order.
func (u *UnitOfWork) RootLocks() []*EntityLock {
	var roots []*EntityLock
	for _, lk := range u.order {
		if lk.Parent == nil {
			roots = append(roots, lk)
		}
	}
	return roots
}

// RequestLock records the intent to insert, update or delete obj and
// cascades it to the owned objects obj references.
//
// Update and Delete require a persistent object id. Insert assigns a
// transient id to an object that has none, and never cascades. A lock
// that is already held is upgraded from Update to Delete; every other
// request for a held lock leaves it unchanged.
func (u *UnitOfWork) RequestLock(obj any, kind LockKind) (*EntityLock, error) {
	if err := u.Err(); err != nil {
		return nil, err
	}
	if kind < LockInsert || kind > LockDelete {
		panic(fmt.Errorf("RequestLock: invalid lock kind %v", kind))
	}
	obj = normalizeNil(obj)
	if obj == nil {
		panic("RequestLock(nil)")
	}
	lk, err := u.lock(obj, kind, nil, make(map[any]bool))
	if err != nil {
		return nil, u.fail(err)
	}
	return lk, nil
}

func (u *UnitOfWork) lock(obj any, kind LockKind, parent *EntityLock, visited map[any]bool) (*EntityLock, error) {
	cls := u.scm.ClassOf(obj)
	if !cls.isEntity {
		panic(fmt.Errorf("cannot lock component %s", cls.name))
	}
	id := objectIDOf(obj)
	if visited[obj] {
		return u.Lock(id), nil
	}
	visited[obj] = true

	lk := u.Lock(id)
	if lk == nil {
		switch {
		case kind == LockInsert:
			if id.IsZero() {
				id = u.assignTransientID(obj, cls)
			}
			lk = &EntityLock{ID: id, Kind: LockInsert, Class: cls, Current: obj, live: obj}
		case !id.IsPersistent():
			return nil, consistencyErrf("lock", id, cls, ErrNotPersisted, "cannot %s", kind)
		default:
			prior, err := u.loadPrior(id, cls, obj)
			if err != nil {
				return nil, err
			}
			lk = &EntityLock{ID: id, Kind: kind, Class: cls, Prior: prior, live: obj}
			if kind != LockDelete {
				lk.Current = obj
			}
		}
		u.add(lk, parent)
	} else {
		if lk.Kind.CanUpgradeTo(kind) {
			lk.Kind = kind
			lk.Current = nil
			u.metrics.lockUpgraded()
			if u.verbose {
				u.logger.LogAttrs(u.context, slog.LevelDebug, "uow: upgraded lock", slog.String("lock", lk.String()))
			}
		}
		if parent != nil && lk.Parent == nil && lk.Class.IsChildEntity() && lk != parent {
			lk.setParent(parent)
		}
	}

	if lk.Kind == LockInsert || lk.live == nil {
		return lk, nil
	}
	for _, c := range cls.cascades {
		if !c.ShouldCascade(lk.Kind) {
			continue
		}
		for child := range c.ReferencedObjects(lk.live) {
			if !objectIDOf(child).IsPersistent() {
				continue
			}
			var p *EntityLock
			if u.scm.ClassOf(child).IsChildEntity() {
				p = lk
			}
			if _, err := u.lock(child, lk.Kind, p, visited); err != nil {
				return nil, err
			}
		}
	}
	return lk, nil
}

func (u *UnitOfWork) add(lk *EntityLock, parent *EntityLock) {
	lk.seq = len(u.order)
	u.order = append(u.order, lk)
	u.locks[lk.ID] = lk
	if parent != nil {
		lk.setParent(parent)
	}
	u.metrics.lockAdded(lk.Kind)
	if u.verbose {
		attrs := []slog.Attr{slog.String("lock", lk.String()), slog.Bool("synthesized", lk.Synthesized)}
		if parent != nil {
			attrs = append(attrs, slog.String("parent", parent.ID.String()))
		}
		u.logger.LogAttrs(u.context, slog.LevelDebug, "uow: lock", attrs...)
	}
}

func (u *UnitOfWork) loadPrior(id ObjectID, cls *ClassMeta, obj any) (any, error) {
	if u.view == nil {
		return u.scm.Clone(obj), nil
	}
	prior, err := u.view.Load(id)
	if err != nil {
		return nil, consistencyErrf("load", id, cls, err, "")
	}
	if isNil(prior) {
		return nil, consistencyErrf("load", id, cls, ErrNotInView, "")
	}
	return prior, nil
}

func (u *UnitOfWork) assignTransientID(obj any, cls *ClassMeta) ObjectID {
	if cls.entityID == 0 {
		panic(fmt.Errorf("%s: cannot assign an object id to an instance of an abstract class", cls.name))
	}
	u.seqs[cls.entityID]++
	id := MakeTransientID(cls.entityID, u.seqs[cls.entityID])
	obj.(Entity).SetObjectID(id)
	return id
}

// Register adds a new entity to the unit of work, assigning it a transient
// object id unless it already has one. Registered objects not reached
// through any lock are inserted as roots on Complete.
func (u *UnitOfWork) Register(obj any) (ObjectID, error) {
	if err := u.Err(); err != nil {
		return 0, err
	}
	cls := u.scm.ClassOf(obj)
	if !cls.isEntity {
		panic(fmt.Errorf("cannot register component %s", cls.name))
	}
	id := objectIDOf(obj)
	if id.IsZero() {
		id = u.assignTransientID(obj, cls)
	}
	u.registered = append(u.registered, obj)
	return id, nil
}

// IsDirty reports whether completing the unit of work would change
// anything: an object was registered, inserted or deleted, or an updated
// object differs from its prior snapshot.
func (u *UnitOfWork) IsDirty() bool {
	if len(u.registered) > 0 {
		return true
	}
	for _, lk := range u.order {
		if lk.Kind != LockUpdate || !u.scm.IsSame(lk.Prior, lk.Current) {
			return true
		}
	}
	return false
}

// DetectOrphans deletes the owned entities that the prior snapshot of a
// locked object references but its live state no longer does. An orphan
// already locked for update is upgraded to delete; otherwise a delete lock
// is synthesized, and its own owned entities are visited in turn.
func (u *UnitOfWork) DetectOrphans() error {
	if err := u.Err(); err != nil {
		return err
	}
	for i := 0; i < len(u.order); i++ {
		lk := u.order[i]
		if lk.Prior == nil {
			continue
		}
		if err := u.detectOrphansOf(lk); err != nil {
			return u.fail(err)
		}
	}
	return nil
}

func (u *UnitOfWork) detectOrphansOf(lk *EntityLock) error {
	for _, c := range lk.Class.cascades {
		if !c.IsOwned() {
			continue
		}
		live := make(map[ObjectID]bool)
		for obj := range c.ReferencedObjects(lk.live) {
			if id := objectIDOf(obj); !id.IsZero() {
				live[id] = true
			}
		}
		deleting := lk.Kind == LockDelete && c.ShouldCascade(LockDelete)
		for old := range c.ReferencedObjects(lk.Prior) {
			id := objectIDOf(old)
			if !id.IsPersistent() || live[id] {
				continue
			}
			cls := u.scm.ClassOf(old)
			if !deleting && !c.DeletesOrphans(cls) {
				continue
			}
			if err := u.deleteOrphan(lk, id, cls, old); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *UnitOfWork) deleteOrphan(owner *EntityLock, id ObjectID, cls *ClassMeta, old any) error {
	if existing := u.Lock(id); existing != nil {
		if existing.Kind == LockUpdate {
			u.metrics.orphanFound()
			_, err := u.lock(existing.live, LockDelete, nil, make(map[any]bool))
			return err
		}
		return nil
	}

	prior := old
	if u.view != nil {
		loaded, err := u.view.Load(id)
		if err != nil {
			return consistencyErrf("load", id, cls, err, "")
		}
		if !isNil(loaded) {
			prior = loaded
		}
	}
	lk := &EntityLock{ID: id, Kind: LockDelete, Class: cls, Prior: prior, Synthesized: true}
	var parent *EntityLock
	if cls.IsChildEntity() {
		parent = owner
	}
	u.metrics.orphanFound()
	u.add(lk, parent)
	return nil
}

// ValidateChildLocks checks that every persisted child entity reachable
// from root through owned references is locked with root's subtree as its
// parent. A lock without a parent is adopted.
func (u *UnitOfWork) ValidateChildLocks(root *EntityLock) error {
	if err := u.Err(); err != nil {
		return err
	}
	if err := u.validate(root, make(map[*EntityLock]bool)); err != nil {
		return u.fail(err)
	}
	return nil
}

func (u *UnitOfWork) validate(lk *EntityLock, visited map[*EntityLock]bool) error {
	if visited[lk] || lk.live == nil {
		return nil
	}
	visited[lk] = true
	for _, c := range lk.Class.cascades {
		if !c.IsOwned() {
			continue
		}
		for child := range c.ReferencedObjects(lk.live) {
			cls := u.scm.ClassOf(child)
			id := objectIDOf(child)
			if !cls.IsChildEntity() || !id.IsPersistent() {
				continue
			}
			clk := u.Lock(id)
			switch {
			case clk == nil:
				return consistencyErrf("validate", id, cls, ErrChildNotLocked, "owner %v", lk)
			case clk == lk:
				continue
			case clk.Parent == nil:
				clk.setParent(lk)
			case clk.Parent != lk:
				return consistencyErrf("validate", id, cls, ErrParentMismatch, "owner %v, locked under %v", lk, clk.Parent)
			}
			if err := u.validate(clk, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// synthesizeInserts creates insert locks for the new objects reachable
// from lk through cascades that propagate inserts.
func (u *UnitOfWork) synthesizeInserts(lk *EntityLock) {
	if lk.live == nil || lk.Kind == LockDelete {
		return
	}
	for _, c := range lk.Class.cascades {
		if !c.ShouldCascade(LockInsert) {
			continue
		}
		for child := range c.ReferencedObjects(lk.live) {
			id := objectIDOf(child)
			if id.IsPersistent() || u.Lock(id) != nil {
				continue
			}
			cls := u.scm.ClassOf(child)
			if id.IsZero() {
				id = u.assignTransientID(child, cls)
			}
			nk := &EntityLock{ID: id, Kind: LockInsert, Class: cls, Current: child, live: child, Synthesized: true}
			var parent *EntityLock
			if cls.IsChildEntity() {
				parent = lk
			}
			u.add(nk, parent)
			u.synthesizeInserts(nk)
		}
	}
}

// BuildDeltaNode builds the delta tree rooted at lk. New objects reachable
// from the subtree get insert locks first.
func (u *UnitOfWork) BuildDeltaNode(lk *EntityLock) *DeltaNode {
	return u.buildNode(lk, lk.Root())
}

func (u *UnitOfWork) buildNode(lk, root *EntityLock) *DeltaNode {
	u.synthesizeInserts(lk)
	n := &DeltaNode{
		RootID:   root.ID,
		ObjectID: lk.ID,
		Class:    lk.Class,
		Prior:    lk.Prior,
		Current:  lk.Current,
		Kind:     lk.Kind,
		Lock:     lk,
	}
	if lk.Parent != nil {
		n.ParentID = lk.Parent.ID
	}
	switch lk.Kind {
	case LockInsert, LockDelete:
		n.IsDirty = true
	default:
		n.IsDirty = !u.scm.IsSame(lk.Prior, lk.Current)
	}
	for _, clk := range lk.children {
		cn := u.buildNode(clk, root)
		n.Children = append(n.Children, cn)
		if cn.IsDirty || cn.ChildIsDirty {
			n.ChildIsDirty = true
		}
	}
	return n
}

// Complete finishes the unit of work: it inserts new reachable objects
// and registered objects, deletes orphans, validates child locks, builds
// the delta forest and collects deltas and audit entries. Entries are
// passed to sink when it is not nil. The unit of work cannot be used
// afterwards.
func (u *UnitOfWork) Complete(sink AuditSink) (*ChangeSet, error) {
	if err := u.Err(); err != nil {
		return nil, err
	}
	cs, err := u.complete(sink)
	u.done = true
	if err != nil {
		u.metrics.unitFailed()
		return nil, u.fail(err)
	}
	u.metrics.unitCompleted(len(cs.Deltas), len(cs.Entries))
	if u.verbose {
		u.logger.LogAttrs(u.context, slog.LevelDebug, "uow: completed", slog.Int("locks", len(u.order)), slog.Int("deltas", len(cs.Deltas)), slog.Int("entries", len(cs.Entries)))
	}
	return cs, nil
}

func (u *UnitOfWork) complete(sink AuditSink) (*ChangeSet, error) {
	for i := 0; i < len(u.order); i++ {
		u.synthesizeInserts(u.order[i])
	}
	for _, obj := range u.registered {
		if u.Lock(objectIDOf(obj)) == nil {
			lk := &EntityLock{ID: objectIDOf(obj), Kind: LockInsert, Class: u.scm.ClassOf(obj), Current: obj, live: obj, Synthesized: true}
			u.add(lk, nil)
			u.synthesizeInserts(lk)
		}
	}

	if err := u.DetectOrphans(); err != nil {
		return nil, err
	}
	for _, lk := range u.RootLocks() {
		if err := u.ValidateChildLocks(lk); err != nil {
			return nil, err
		}
	}

	cs := &ChangeSet{}
	for _, lk := range u.RootLocks() {
		cs.Nodes = append(cs.Nodes, u.BuildDeltaNode(lk))
	}
	for _, n := range cs.Nodes {
		cs.Deltas = append(cs.Deltas, n.CollectDeltas()...)
		entries, err := n.CollectAuditEntries(u.enc)
		if err != nil {
			return nil, err
		}
		cs.Entries = append(cs.Entries, entries...)
	}
	if sink != nil && len(cs.Entries) > 0 {
		if err := sink.AppendAudit(cs.Entries); err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	}
	return cs, nil
}

// Discard abandons the unit of work without producing any changes.
func (u *UnitOfWork) Discard() {
	if u.done {
		return
	}
	u.done = true
	u.metrics.unitDiscarded()
}
