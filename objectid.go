package edelta

import (
	"fmt"
	"strconv"
)

// ObjectID identifies an entity instance. The layout is load-bearing:
//
//	bit 63      transient marker (not yet persisted, so transient ids are negative)
//	bits 48..62 entity id of the concrete class
//	bits 0..47  per-class sequence
//
// Schema.ClassByObjectID resolves the class of a bare id from the middle bits.
type ObjectID int64

const (
	MaxEntityID = 0x7FFF
	MaxSeq      = 1<<entityIDShift - 1

	entityIDShift        = 48
	transientBit  uint64 = 1 << 63
)

func MakeObjectID(entityID int, seq uint64) ObjectID {
	return ObjectID(packObjectID(entityID, seq))
}

func MakeTransientID(entityID int, seq uint64) ObjectID {
	return ObjectID(transientBit | packObjectID(entityID, seq))
}

func packObjectID(entityID int, seq uint64) uint64 {
	if entityID <= 0 || entityID > MaxEntityID {
		panic(fmt.Errorf("entity id %d out of range", entityID))
	}
	if seq > MaxSeq {
		panic(fmt.Errorf("object sequence %d out of range", seq))
	}
	return uint64(entityID)<<entityIDShift | seq
}

func (id ObjectID) EntityID() int {
	return int((uint64(id) >> entityIDShift) & MaxEntityID)
}

func (id ObjectID) Seq() uint64 {
	return uint64(id) & MaxSeq
}

func (id ObjectID) IsZero() bool {
	return id == 0
}

func (id ObjectID) IsTransient() bool {
	return id < 0
}

func (id ObjectID) IsPersistent() bool {
	return id > 0
}

func (id ObjectID) String() string {
	if id == 0 {
		return "0"
	}
	var buf [32]byte
	b := append(buf[:0], 'e')
	b = strconv.AppendInt(b, int64(id.EntityID()), 10)
	b = append(b, '.')
	if id.IsTransient() {
		b = append(b, '~')
	}
	b = strconv.AppendUint(b, id.Seq(), 10)
	return string(b)
}

// Entity is implemented by every object whose class is an entity. Embed
// EntityBase to get an implementation.
type Entity interface {
	ObjectID() ObjectID
	SetObjectID(id ObjectID)
}

type EntityBase struct {
	ID ObjectID `msgpack:"id"`
}

func (e *EntityBase) ObjectID() ObjectID {
	return e.ID
}

func (e *EntityBase) SetObjectID(id ObjectID) {
	e.ID = id
}

func objectIDOf(obj any) ObjectID {
	if ent, ok := obj.(Entity); ok {
		return ent.ObjectID()
	}
	return 0
}
