/*
Package edelta tracks changes to a typed object graph and turns them into
property-level deltas and audit entries.

The model:

1. A Schema registers entity and component (value object) classes with
DefineEntity and DefineComponent. Properties are declared with generic
helpers (String, Components, Reference and so on) that capture typed field
accessors, so nothing is discovered by reflection. Seal cross-links and
validates the schema; afterwards it is immutable.

2. Reference properties carry a Cascade: a strategy saying which lock kinds
propagate from the owner to the referenced entities, and whether entities
dropped from the reference are deleted as orphans.

3. A UnitOfWork records insert, update and delete locks on entities,
cascading them through owned references. Each lock holds a prior snapshot,
loaded from a SnapshotView or cloned at lock time.

4. Complete turns the locks into a forest of DeltaNodes (one tree per root
entity, child entities under their parents) and collects ObjectDeltas and
AuditEntries from it, parents before children.

# Diffing

Schema.CreateDelta compares two snapshots of an object. Entities match by
object id, components by their child key; objects of different classes or
identities are reported as a Removed+Added pair. Collections of keyed items
are matched by key regardless of order, unkeyed lists by position, bags and
sets by value, maps by key. Reference collections only report membership.
Schema.IsSame runs the same comparison and stops at the first difference.

# Object ids

An ObjectID packs the 15-bit entity id of the concrete class and a 48-bit
per-class sequence; the sign bit marks transient ids assigned to objects not
persisted yet. The class of a bare id can be resolved with
Schema.ClassByObjectID.

# Encoding

The Writer and Reader interfaces define the codec contract used by
WriteObject, ReadObject, WriteDelta and ReadObjectDelta. MsgPackWriter and
MsgPackReader implement it with msgpack. Objects are encoded as
[class name, object id, property values...] with properties in declaration
order; references are encoded as object ids.
*/
package edelta
