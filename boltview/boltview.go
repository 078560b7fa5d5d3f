// Package boltview keeps committed entity snapshots in a Bolt database and
// serves them to units of work as an edelta.SnapshotView.
//
// Objects live in the "objects" bucket, one nested bucket per table, keyed
// by the big-endian object id. Classes of a table-per-hierarchy chain share
// the bucket of the chain root. Values are encoded with the schema's msgpack
// codec, so references come back as id-only stubs.
package boltview

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andreyvit/edelta"
	"go.etcd.io/bbolt"
)

var objectsBucket = []byte("objects")

var ErrNotEntity = errors.New("not an entity")

type Options struct {
	Context   context.Context
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration

	Logger  *slog.Logger
	Verbose bool
}

// Store is a Bolt file of committed snapshots.
type Store struct {
	bdb     *bbolt.DB
	schema  *edelta.Schema
	codec   edelta.MsgPackCodec
	context context.Context
	logger  *slog.Logger
	verbose bool

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
	LoadCount  atomic.Uint64
}

func Open(path string, scm *edelta.Schema, o Options) (*Store, error) {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = o.Timeout
	if o.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if o.MmapSize != 0 {
		bopt.InitialMmapSize = o.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("boltview: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("boltview: %w", err)
	}

	return &Store{
		bdb:     bdb,
		schema:  scm,
		codec:   scm.MsgPack(),
		context: o.Context,
		logger:  o.Logger,
		verbose: o.Verbose,
	}, nil
}

func (s *Store) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *Store) Schema() *edelta.Schema {
	return s.schema
}

func (s *Store) Close() error {
	return s.bdb.Close()
}

// Publish stores the current state of persisted entities, replacing their
// previous snapshots. All objects are written in one transaction.
func (s *Store) Publish(objs ...any) error {
	s.WriteCount.Add(1)
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		var buf []byte
		for _, obj := range objs {
			ent, ok := obj.(edelta.Entity)
			if !ok {
				return fmt.Errorf("boltview: publish %T: %w", obj, ErrNotEntity)
			}
			id := ent.ObjectID()
			if !id.IsPersistent() {
				return fmt.Errorf("boltview: publish %v: %w", id, edelta.ErrNotPersisted)
			}
			cls := s.schema.ClassOf(obj)
			b, err := btx.Bucket(objectsBucket).CreateBucketIfNotExists([]byte(tableName(cls)))
			if err != nil {
				return err
			}
			buf, err = s.codec.EncodeObject(buf[:0], obj)
			if err != nil {
				return fmt.Errorf("boltview: publish %v: %w", id, err)
			}
			if err := b.Put(objectKey(id), buf); err != nil {
				return err
			}
			if s.verbose {
				s.logger.LogAttrs(s.context, slog.LevelDebug, "boltview: published", slog.String("class", cls.Name()), slog.String("id", id.String()), slog.Int("size", len(buf)))
			}
		}
		return nil
	})
}

// Remove deletes the snapshots of the given objects. Unknown ids are
// ignored.
func (s *Store) Remove(ids ...edelta.ObjectID) error {
	s.WriteCount.Add(1)
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		for _, id := range ids {
			b := s.bucket(btx, id)
			if b == nil {
				continue
			}
			if err := b.Delete(objectKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// View opens a read-only transaction. The returned view sees the snapshots
// committed before it was opened and must be closed.
func (s *Store) View() (*View, error) {
	btx, err := s.bdb.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("boltview: %w", err)
	}
	s.ReadCount.Add(1)
	return &View{store: s, btx: btx}, nil
}

// Read calls f with a view that is closed when f returns.
func (s *Store) Read(f func(v *View) error) error {
	v, err := s.View()
	if err != nil {
		return err
	}
	defer v.Close()
	return f(v)
}

func (s *Store) bucket(btx *bbolt.Tx, id edelta.ObjectID) *bbolt.Bucket {
	cls := s.schema.ClassByObjectID(id)
	if cls == nil {
		return nil
	}
	return btx.Bucket(objectsBucket).Bucket([]byte(tableName(cls)))
}

// View is a point-in-time snapshot of a Store.
type View struct {
	store *Store
	btx   *bbolt.Tx
}

var _ edelta.SnapshotView = (*View)(nil)

// Load decodes the snapshot of id, or returns nil when there is none.
func (v *View) Load(id edelta.ObjectID) (any, error) {
	if v.btx == nil {
		return nil, bbolt.ErrTxClosed
	}
	v.store.LoadCount.Add(1)
	b := v.store.bucket(v.btx, id)
	if b == nil {
		return nil, nil
	}
	data := b.Get(objectKey(id))
	if data == nil {
		return nil, nil
	}
	obj, err := v.store.codec.DecodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("boltview: load %v: %w", id, err)
	}
	return obj, nil
}

// Count returns the number of snapshots stored for the table of cls.
func (v *View) Count(cls *edelta.ClassMeta) int {
	b := v.btx.Bucket(objectsBucket).Bucket([]byte(tableName(cls)))
	if b == nil {
		return 0
	}
	return b.Stats().KeyN
}

func (v *View) Close() error {
	if v.btx == nil {
		return nil
	}
	err := v.btx.Rollback()
	v.btx = nil
	return err
}

func tableName(cls *edelta.ClassMeta) string {
	if cls.SubclassStrategy() == edelta.TablePerHierarchy {
		for cls.Base() != nil {
			cls = cls.Base()
		}
	}
	return cls.Name()
}

func objectKey(id edelta.ObjectID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}
