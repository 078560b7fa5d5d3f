package edelta

// AuditEntry is the serializable record of one dirty node of a delta tree.
// Payload holds the encoded current state of the object; it is empty for
// Removed entries.
type AuditEntry struct {
	Action         Action   `msgpack:"a"`
	ObjectID       ObjectID `msgpack:"id"`
	RootObjectID   ObjectID `msgpack:"root"`
	ParentObjectID ObjectID `msgpack:"parent,omitempty"`
	EntityID       int32    `msgpack:"eid"`
	Payload        []byte   `msgpack:"p,omitempty"`
}

// PayloadEncoder encodes the object state stored in audit entries.
// Schema.MsgPack() returns the default implementation.
type PayloadEncoder interface {
	EncodeObject(buf []byte, obj any) ([]byte, error)
}

func (e *AuditEntry) String() string {
	return e.Action.String() + " " + e.ObjectID.String()
}
