package edelta

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Writer is the sink side of the codec contract. Objects are written as a
// header followed by one value per persistent property, in property order.
// References are written as bare object ids.
type Writer interface {
	WriteNull() error
	WriteBool(v bool) error
	WriteInt(v int32) error
	WriteLong(v int64) error
	WriteDouble(v float64) error
	WriteString(v string) error
	WriteDateTime(v time.Time) error
	WriteGuid(v uuid.UUID) error
	WriteBytes(v []byte) error
	WriteDoubleArray(v []float64) error
	WriteReferenceID(id ObjectID) error
	WriteObjectHeader(cls *ClassMeta, id ObjectID, n int) error
	WriteList(n int) error
	WriteMap(n int) error
	WriteSet(n int) error
}

// Reader is the source side of the codec contract, mirroring Writer.
// ReadNull consumes a null if one is next and reports whether it did.
type Reader interface {
	ReadNull() (bool, error)
	ReadBool() (bool, error)
	ReadInt() (int32, error)
	ReadLong() (int64, error)
	ReadDouble() (float64, error)
	ReadString() (string, error)
	ReadDateTime() (time.Time, error)
	ReadGuid() (uuid.UUID, error)
	ReadBytes() ([]byte, error)
	ReadDoubleArray() ([]float64, error)
	ReadReferenceID() (ObjectID, error)
	ReadObjectHeader() (name string, id ObjectID, n int, err error)
	ReadList() (int, error)
	ReadMap() (int, error)
	ReadSet() (int, error)
}

// WriteObject writes obj (or null) with all of its persistent properties.
func (scm *Schema) WriteObject(w Writer, obj any) error {
	obj = normalizeNil(obj)
	if obj == nil {
		return w.WriteNull()
	}
	cls := scm.ClassOf(obj)
	if err := w.WriteObjectHeader(cls, objectIDOf(obj), len(cls.persistent)); err != nil {
		return err
	}
	for _, p := range cls.persistent {
		if err := p.writeValue(w, p.base().get(obj)); err != nil {
			return fmt.Errorf("%v: %w", p, err)
		}
	}
	return nil
}

// ReadObject reads an object written by WriteObject. Referenced entities
// come back as stubs that carry only their object id.
func (scm *Schema) ReadObject(r Reader) (any, error) {
	if null, err := r.ReadNull(); err != nil || null {
		return nil, err
	}
	name, id, n, err := r.ReadObjectHeader()
	if err != nil {
		return nil, err
	}
	cls := scm.ClassNamed(name)
	if cls == nil {
		return nil, dataErrf(nil, 0, nil, "unknown class %q", name)
	}
	if cls.abstract {
		return nil, dataErrf(nil, 0, nil, "cannot instantiate abstract class %s", cls.name)
	}
	if n != len(cls.persistent) {
		return nil, dataErrf(nil, 0, nil, "%s: got %d property values, wanted %d", cls.name, n, len(cls.persistent))
	}
	obj := cls.New()
	if id != 0 && cls.isEntity {
		obj.(Entity).SetObjectID(id)
	}
	for _, p := range cls.persistent {
		v, err := p.readValue(scm, r)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", p, err)
		}
		p.base().set(obj, v)
	}
	return obj, nil
}

func writeElem(scm *Schema, w Writer, item any, refs bool) error {
	if item == nil {
		return w.WriteNull()
	}
	if !refs {
		return scm.WriteObject(w, item)
	}
	id := objectIDOf(item)
	if id.IsZero() {
		return consistencyErrf("encode", id, scm.ClassOf(item), ErrNotPersisted, "reference to an entity without an object id")
	}
	return w.WriteReferenceID(id)
}

func readElem(scm *Schema, r Reader, refs bool) (any, error) {
	if !refs {
		return scm.ReadObject(r)
	}
	if null, err := r.ReadNull(); err != nil || null {
		return nil, err
	}
	id, err := r.ReadReferenceID()
	if err != nil {
		return nil, err
	}
	cls := scm.ClassByObjectID(id)
	if cls == nil {
		return nil, dataErrf(nil, 0, nil, "reference %v: unknown entity id", id)
	}
	obj := cls.New()
	obj.(Entity).SetObjectID(id)
	return obj, nil
}

func expectLen(read func() (int, error), n int, what any) error {
	m, err := read()
	if err != nil {
		return err
	}
	if m != n {
		return dataErrf(nil, 0, nil, "%v: got %d items, wanted %d", what, m, n)
	}
	return nil
}

func readAction(r Reader) (Action, error) {
	v, err := r.ReadInt()
	if err != nil {
		return 0, err
	}
	a := Action(v)
	if a < Added || a > Changed {
		return 0, dataErrf(nil, 0, nil, "invalid action %d", v)
	}
	return a, nil
}

// WriteObjectDeltas writes a list of object deltas. Added and Removed
// deltas carry the whole object; Changed ones only the key and the
// property deltas.
func (scm *Schema) WriteObjectDeltas(w Writer, deltas []*ObjectDelta) error {
	return scm.writeObjectDeltas(w, deltas, false)
}

func (scm *Schema) WriteObjectDelta(w Writer, od *ObjectDelta) error {
	return scm.writeObjectDelta(w, od, false)
}

func (scm *Schema) writeObjectDeltas(w Writer, deltas []*ObjectDelta, byRef bool) error {
	if err := w.WriteList(len(deltas)); err != nil {
		return err
	}
	for _, od := range deltas {
		if err := scm.writeObjectDelta(w, od, byRef); err != nil {
			return err
		}
	}
	return nil
}

// writeObjectDelta writes [action, class, key, prior, current, deltas].
// With byRef, objects are written as references.
func (scm *Schema) writeObjectDelta(w Writer, od *ObjectDelta, byRef bool) error {
	if err := w.WriteList(6); err != nil {
		return err
	}
	if err := w.WriteInt(int32(od.Action)); err != nil {
		return err
	}
	if err := w.WriteString(od.Class.name); err != nil {
		return err
	}
	if err := writeKey(w, od.Key); err != nil {
		return err
	}
	var prior, current any
	switch od.Action {
	case Added:
		current = od.Object
	case Removed:
		prior = od.Object
	}
	if err := writeElem(scm, w, prior, byRef); err != nil {
		return err
	}
	if err := writeElem(scm, w, current, byRef); err != nil {
		return err
	}
	if err := w.WriteMap(len(od.PropertyDeltas)); err != nil {
		return err
	}
	for _, pd := range od.PropertyDeltas {
		if err := w.WriteString(pd.Property().Name()); err != nil {
			return err
		}
		if err := scm.WriteDelta(w, pd); err != nil {
			return fmt.Errorf("%v: %w", pd.Property(), err)
		}
	}
	return nil
}

func writeKey(w Writer, k Key) error {
	if err := w.WriteList(2); err != nil {
		return err
	}
	if err := w.WriteLong(int64(k.id)); err != nil {
		return err
	}
	if err := w.WriteList(len(k.parts)); err != nil {
		return err
	}
	for _, part := range k.parts {
		if err := w.WriteString(part); err != nil {
			return err
		}
	}
	return nil
}

func readKey(r Reader) (Key, error) {
	if err := expectLen(r.ReadList, 2, "key"); err != nil {
		return Key{}, err
	}
	id, err := r.ReadLong()
	if err != nil {
		return Key{}, err
	}
	n, err := r.ReadList()
	if err != nil {
		return Key{}, err
	}
	var parts []string
	for range n {
		s, err := r.ReadString()
		if err != nil {
			return Key{}, err
		}
		parts = append(parts, s)
	}
	return Key{ObjectID(id), parts}, nil
}

// ReadObjectDeltas reads a list written by WriteObjectDeltas.
func (scm *Schema) ReadObjectDeltas(r Reader) ([]*ObjectDelta, error) {
	return scm.readObjectDeltas(r, false)
}

// ReadObjectDelta reads one delta written by WriteObjectDelta. Property
// deltas are resolved against the schema by class and property name.
func (scm *Schema) ReadObjectDelta(r Reader) (*ObjectDelta, error) {
	return scm.readObjectDelta(r, false)
}

func (scm *Schema) readObjectDeltas(r Reader, byRef bool) ([]*ObjectDelta, error) {
	n, err := r.ReadList()
	if err != nil || n <= 0 {
		return nil, err
	}
	deltas := make([]*ObjectDelta, 0, n)
	for range n {
		od, err := scm.readObjectDelta(r, byRef)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, od)
	}
	return deltas, nil
}

func (scm *Schema) readObjectDelta(r Reader, byRef bool) (*ObjectDelta, error) {
	if err := expectLen(r.ReadList, 6, "object delta"); err != nil {
		return nil, err
	}
	action, err := readAction(r)
	if err != nil {
		return nil, err
	}
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	cls := scm.ClassNamed(name)
	if cls == nil {
		return nil, dataErrf(nil, 0, nil, "unknown class %q", name)
	}
	key, err := readKey(r)
	if err != nil {
		return nil, err
	}
	prior, err := readElem(scm, r, byRef)
	if err != nil {
		return nil, err
	}
	current, err := readElem(scm, r, byRef)
	if err != nil {
		return nil, err
	}

	od := &ObjectDelta{Action: action, Class: cls, Key: key}
	switch action {
	case Added:
		od.Object = current
	case Removed:
		od.Object = prior
	}

	n, err := r.ReadMap()
	if err != nil {
		return nil, err
	}
	for range n {
		pname, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		p := cls.PropertyNamed(pname)
		if p == nil {
			return nil, dataErrf(nil, 0, nil, "%s: unknown property %q", cls.name, pname)
		}
		pd, err := p.readDelta(scm, r)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", p, err)
		}
		od.PropertyDeltas = append(od.PropertyDeltas, pd)
	}
	return od, nil
}

// WriteDelta writes one property delta. The layout depends on the delta
// kind, which the reader recovers from the property.
func (scm *Schema) WriteDelta(w Writer, pd PropertyDelta) error {
	switch d := pd.(type) {
	case scalarDelta:
		return d.writeValues(w)
	case *ReferenceDelta:
		if err := w.WriteList(2); err != nil {
			return err
		}
		if err := writeElem(scm, w, d.Prior, true); err != nil {
			return err
		}
		return writeElem(scm, w, d.Current, true)
	case *ComponentDelta:
		return scm.writeObjectDeltas(w, d.Deltas, false)
	case *KeyedCollectionDelta:
		return scm.writeObjectDeltas(w, d.Items, d.byRef)
	case *ListCollectionDelta, *BagCollectionDelta, *SetCollectionDelta, *MapCollectionDelta:
		refs, keyType := elemCodec(pd.Property())
		return scm.writeItemDeltas(w, itemDeltas(pd), refs, keyType)
	default:
		panic(fmt.Errorf("unsupported property delta %T", pd))
	}
}

func elemCodec(p PropertyMeta) (refs bool, keyType scalarOps) {
	switch p := p.(type) {
	case *collectionProp:
		return p.refs, nil
	case *mapProp:
		return p.refs, p.keyType
	default:
		return false, nil
	}
}

// writeItemDeltas writes each item as [action, index, key, prior,
// current, deltas]. Objects are included for Added and Removed items, and
// for Changed references.
func (scm *Schema) writeItemDeltas(w Writer, items []*ItemDelta, refs bool, keyType scalarOps) error {
	if err := w.WriteList(len(items)); err != nil {
		return err
	}
	for _, item := range items {
		if err := w.WriteList(6); err != nil {
			return err
		}
		if err := w.WriteInt(int32(item.Action)); err != nil {
			return err
		}
		if err := w.WriteLong(int64(item.Index)); err != nil {
			return err
		}
		var err error
		if keyType != nil && item.Key != nil {
			err = keyType.writeAny(w, item.Key)
		} else {
			err = w.WriteNull()
		}
		if err != nil {
			return err
		}
		prior, current := item.Prior, item.Current
		if item.Action == Changed && !refs {
			prior, current = nil, nil
		}
		if err := writeElem(scm, w, prior, refs); err != nil {
			return err
		}
		if err := writeElem(scm, w, current, refs); err != nil {
			return err
		}
		if err := scm.writeObjectDeltas(w, item.Deltas, false); err != nil {
			return err
		}
	}
	return nil
}

func readItemDeltas(scm *Schema, r Reader, refs bool, keyType scalarOps) ([]*ItemDelta, error) {
	n, err := r.ReadList()
	if err != nil || n <= 0 {
		return nil, err
	}
	items := make([]*ItemDelta, 0, n)
	for range n {
		if err := expectLen(r.ReadList, 6, "item delta"); err != nil {
			return nil, err
		}
		item := &ItemDelta{}
		if item.Action, err = readAction(r); err != nil {
			return nil, err
		}
		index, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		item.Index = int(index)
		null, err := r.ReadNull()
		if err != nil {
			return nil, err
		}
		if !null {
			if keyType == nil {
				return nil, dataErrf(nil, 0, nil, "unexpected key in a non-map item delta")
			}
			if item.Key, err = keyType.readAny(r); err != nil {
				return nil, err
			}
		}
		if item.Prior, err = readElem(scm, r, refs); err != nil {
			return nil, err
		}
		if item.Current, err = readElem(scm, r, refs); err != nil {
			return nil, err
		}
		if item.Deltas, err = scm.readObjectDeltas(r, false); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
