package edelta

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MsgPackWriter implements Writer on top of a msgpack encoder. Objects
// become arrays of [class name, object id, values...], lists and sets
// become arrays, maps become maps.
type MsgPackWriter struct {
	enc *msgpack.Encoder
}

var _ Writer = (*MsgPackWriter)(nil)

func NewMsgPackWriter(w io.Writer) *MsgPackWriter {
	return &MsgPackWriter{msgpack.NewEncoder(w)}
}

func (w *MsgPackWriter) WriteNull() error                { return w.enc.EncodeNil() }
func (w *MsgPackWriter) WriteBool(v bool) error          { return w.enc.EncodeBool(v) }
func (w *MsgPackWriter) WriteInt(v int32) error          { return w.enc.EncodeInt(int64(v)) }
func (w *MsgPackWriter) WriteLong(v int64) error         { return w.enc.EncodeInt(v) }
func (w *MsgPackWriter) WriteDouble(v float64) error     { return w.enc.EncodeFloat64(v) }
func (w *MsgPackWriter) WriteString(v string) error      { return w.enc.EncodeString(v) }
func (w *MsgPackWriter) WriteDateTime(v time.Time) error { return w.enc.EncodeTime(v) }
func (w *MsgPackWriter) WriteGuid(v uuid.UUID) error     { return w.enc.EncodeBytes(v[:]) }
func (w *MsgPackWriter) WriteBytes(v []byte) error       { return w.enc.EncodeBytes(v) }
func (w *MsgPackWriter) WriteReferenceID(id ObjectID) error {
	return w.enc.EncodeInt(int64(id))
}
func (w *MsgPackWriter) WriteList(n int) error { return w.enc.EncodeArrayLen(n) }
func (w *MsgPackWriter) WriteSet(n int) error  { return w.enc.EncodeArrayLen(n) }
func (w *MsgPackWriter) WriteMap(n int) error  { return w.enc.EncodeMapLen(n) }

func (w *MsgPackWriter) WriteDoubleArray(v []float64) error {
	if err := w.enc.EncodeArrayLen(len(v)); err != nil {
		return err
	}
	for _, f := range v {
		if err := w.enc.EncodeFloat64(f); err != nil {
			return err
		}
	}
	return nil
}

func (w *MsgPackWriter) WriteObjectHeader(cls *ClassMeta, id ObjectID, n int) error {
	if err := w.enc.EncodeArrayLen(n + 2); err != nil {
		return err
	}
	if err := w.enc.EncodeString(cls.name); err != nil {
		return err
	}
	return w.enc.EncodeInt(int64(id))
}

// MsgPackReader implements Reader on top of a msgpack decoder.
type MsgPackReader struct {
	dec *msgpack.Decoder
}

var _ Reader = (*MsgPackReader)(nil)

func NewMsgPackReader(r io.Reader) *MsgPackReader {
	return &MsgPackReader{msgpack.NewDecoder(r)}
}

func (r *MsgPackReader) ReadNull() (bool, error) {
	c, err := r.dec.PeekCode()
	if err != nil {
		return false, err
	}
	if c != msgpcode.Nil {
		return false, nil
	}
	return true, r.dec.DecodeNil()
}

func (r *MsgPackReader) ReadBool() (bool, error)          { return r.dec.DecodeBool() }
func (r *MsgPackReader) ReadInt() (int32, error)          { return r.dec.DecodeInt32() }
func (r *MsgPackReader) ReadLong() (int64, error)         { return r.dec.DecodeInt64() }
func (r *MsgPackReader) ReadDouble() (float64, error)     { return r.dec.DecodeFloat64() }
func (r *MsgPackReader) ReadString() (string, error)      { return r.dec.DecodeString() }
func (r *MsgPackReader) ReadDateTime() (time.Time, error) { return r.dec.DecodeTime() }
func (r *MsgPackReader) ReadBytes() ([]byte, error)       { return r.dec.DecodeBytes() }
func (r *MsgPackReader) ReadList() (int, error)           { return r.length(r.dec.DecodeArrayLen()) }
func (r *MsgPackReader) ReadSet() (int, error)            { return r.length(r.dec.DecodeArrayLen()) }
func (r *MsgPackReader) ReadMap() (int, error)            { return r.length(r.dec.DecodeMapLen()) }

func (r *MsgPackReader) ReadReferenceID() (ObjectID, error) {
	v, err := r.dec.DecodeInt64()
	return ObjectID(v), err
}

func (r *MsgPackReader) ReadGuid() (uuid.UUID, error) {
	b, err := r.dec.DecodeBytes()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}

func (r *MsgPackReader) ReadDoubleArray() ([]float64, error) {
	n, err := r.ReadList()
	if err != nil || n == 0 {
		return nil, err
	}
	v := make([]float64, n)
	for i := range v {
		if v[i], err = r.dec.DecodeFloat64(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (r *MsgPackReader) ReadObjectHeader() (string, ObjectID, int, error) {
	n, err := r.dec.DecodeArrayLen()
	if err != nil {
		return "", 0, 0, err
	}
	if n < 2 {
		return "", 0, 0, dataErrf(nil, 0, nil, "object header has %d items", n)
	}
	name, err := r.dec.DecodeString()
	if err != nil {
		return "", 0, 0, err
	}
	id, err := r.dec.DecodeInt64()
	if err != nil {
		return "", 0, 0, err
	}
	return name, ObjectID(id), n - 2, nil
}

// length maps the nil array and map (-1) to an empty one.
func (r *MsgPackReader) length(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	return n, err
}

// MsgPackCodec encodes objects and deltas of one schema into msgpack
// byte slices. It serves as the PayloadEncoder of audit entries.
type MsgPackCodec struct {
	scm *Schema
}

var _ PayloadEncoder = MsgPackCodec{}

// MsgPack returns the msgpack codec of the schema.
func (scm *Schema) MsgPack() MsgPackCodec {
	return MsgPackCodec{scm}
}

// EncodeObject appends the encoding of obj to buf.
func (c MsgPackCodec) EncodeObject(buf []byte, obj any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := c.scm.WriteObject(&MsgPackWriter{enc}, obj)
	msgpack.PutEncoder(enc)
	if err != nil {
		return buf, fmt.Errorf("failed to encode %T using MsgPack: %w", obj, err)
	}
	return bb.Buf, nil
}

func (c MsgPackCodec) DecodeObject(data []byte) (any, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	obj, err := c.scm.ReadObject(&MsgPackReader{dec})
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(data, len(data)-r.Len(), err, "failed to decode msgpack object")
	}
	return obj, nil
}

// EncodeDeltas appends the encoding of a list of object deltas to buf.
func (c MsgPackCodec) EncodeDeltas(buf []byte, deltas []*ObjectDelta) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := c.scm.WriteObjectDeltas(&MsgPackWriter{enc}, deltas)
	msgpack.PutEncoder(enc)
	if err != nil {
		return buf, fmt.Errorf("failed to encode deltas using MsgPack: %w", err)
	}
	return bb.Buf, nil
}

func (c MsgPackCodec) DecodeDeltas(data []byte) ([]*ObjectDelta, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	deltas, err := c.scm.ReadObjectDeltas(&MsgPackReader{dec})
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(data, len(data)-r.Len(), err, "failed to decode msgpack deltas")
	}
	return deltas, nil
}
