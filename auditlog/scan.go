package auditlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/andreyvit/edelta"
	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

var errTornTail = errors.New("uncommitted tail")

// CorruptionError reports the first unreadable spot of an audit log.
type CorruptionError struct {
	Segment string
	Offset  int64
	Msg     string
}

func errorf(off int, format string, args ...any) *CorruptionError {
	return &CorruptionError{Offset: int64(off), Msg: fmt.Sprintf(format, args...)}
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s at %s+%d", e.Msg, e.Segment, e.Offset)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}

// Batch is one committed AppendAudit call.
type Batch struct {
	Segment string
	Seq     uint64 // 1-based, contiguous across segments
	Time    time.Time
	Entries []edelta.AuditEntry
}

// Report summarizes a Verify run.
type Report struct {
	Segments   int
	Batches    int
	Entries    int
	TornBytes  int64
	Corruption *CorruptionError
}

func (r *Report) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d segments, %d batches, %d entries", r.Segments, r.Batches, r.Entries)
	if r.TornBytes > 0 {
		fmt.Fprintf(&buf, ", %d uncommitted bytes at the end", r.TornBytes)
	}
	if r.Corruption != nil {
		fmt.Fprintf(&buf, ", corrupted: %v", r.Corruption)
	}
	return buf.String()
}

// Scan calls fn for every committed batch in dir, oldest first. It stops at
// the first corruption and returns a *CorruptionError; uncommitted data at
// the end of the last segment is skipped.
func Scan(dir string, o Options, fn func(b *Batch) error) error {
	o.setDefaults()
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	return scan(o.Context, dir, prefix, suffix, fn, nil)
}

// Verify reads the whole log in dir. Corruption is returned in the report;
// the error is reserved for I/O problems.
func Verify(dir string, o Options) (*Report, error) {
	o.setDefaults()
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	r := &Report{}
	err := scan(o.Context, dir, prefix, suffix, func(b *Batch) error {
		r.Batches++
		r.Entries += len(b.Entries)
		return nil
	}, r)
	var ce *CorruptionError
	if errors.As(err, &ce) {
		r.Corruption = ce
		err = nil
	}
	return r, err
}

func scan(ctx context.Context, dir, prefix, suffix string, fn func(b *Batch) error, r *Report) error {
	segs, err := listSegments(dir, prefix, suffix)
	if err != nil {
		return err
	}
	var next uint64
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, release, err := mapSegment(seg.path)
		if err != nil {
			return err
		}
		res, err := readSegment(seg, data, next, func(seq uint64, ts uint32, off int, recs [][]byte) error {
			entries := make([]edelta.AuditEntry, len(recs))
			for j, rec := range recs {
				if err := msgpack.Unmarshal(rec, &entries[j]); err != nil {
					return errorf(off, "batch %d record %d: %v", seq, j, err)
				}
			}
			return fn(&Batch{
				Segment: seg.name,
				Seq:     seq,
				Time:    time.Unix(int64(ts), 0).UTC(),
				Entries: entries,
			})
		})
		release()
		if r != nil {
			r.Segments++
		}
		if err != nil {
			var ce *CorruptionError
			if errors.As(err, &ce) && ce.Segment == "" {
				ce.Segment = seg.name
			}
			return err
		}
		if torn := res.size - res.committed; torn > 0 {
			if i < len(segs)-1 {
				return &CorruptionError{seg.name, res.committed, "uncommitted data in a sealed segment"}
			}
			if r != nil {
				r.TornBytes = torn
			}
		}
		next = res.header.FirstBatch + res.batches
	}
	return nil
}

type segmentResult struct {
	header    segmentHeader
	batches   uint64
	size      int64
	committed int64 // zero unless the header is valid
}

// readSegment walks the records of a segment and calls fn for every
// committed batch. Parsing stops silently at a truncated record or commit.
func readSegment(seg *segment, data []byte, expectFirst uint64, fn func(seq uint64, ts uint32, off int, recs [][]byte) error) (segmentResult, error) {
	res := segmentResult{size: int64(len(data))}
	h := &res.header
	if err := decodeSegmentHeader(data, h); err != nil {
		return res, err
	}
	if h.SegmentOrdinal != seg.ordinal || h.FirstBatch != seg.first {
		return res, errorf(0, "header does not match file name")
	}
	if expectFirst != 0 && h.FirstBatch != expectFirst {
		return res, errorf(0, "first batch is %d, wanted %d", h.FirstBatch, expectFirst)
	}

	var hash xxhash.Digest
	hash.Reset()
	off, hashed := segmentHeaderSize, 0
	res.committed = int64(off)
	ts := h.Timestamp
	var recs [][]byte
	for off < len(data) {
		if data[off]&recordFlagCommit != 0 {
			if len(data)-off < commitSize {
				break
			}
			hash.Write(data[hashed:off])
			hashed = off
			if binary.LittleEndian.Uint64(data[off:]) != hash.Sum64()|uint64(recordFlagCommit) {
				return res, errorf(off, "commit checksum mismatch")
			}
			if len(recs) == 0 {
				return res, errorf(off, "empty batch")
			}
			seq := h.FirstBatch + res.batches
			if err := fn(seq, ts, off, recs); err != nil {
				return res, err
			}
			off += commitSize
			res.batches++
			res.committed = int64(off)
			recs = recs[:0]
			continue
		}

		size, n := binary.Uvarint(data[off:])
		if n < 0 {
			return res, errorf(off, "invalid record size")
		} else if n == 0 {
			break
		}
		tsDelta, m := binary.Uvarint(data[off+n:])
		if m < 0 || tsDelta > math.MaxUint32 {
			return res, errorf(off, "invalid record timestamp")
		} else if m == 0 {
			break
		}
		start := off + n + m
		size >>= recordFlagShift
		if size > uint64(len(data)-start) {
			break
		}
		ts += uint32(tsDelta)
		recs = append(recs, data[start:start+int(size)])
		off = start + int(size)
	}
	return res, nil
}

type trimResult struct {
	header  segmentHeader
	batches uint64
	trimmed int64
	reason  error
}

// trimSegment cuts everything after the last valid commit. A segment
// without a valid header is reported as corrupted.
func trimSegment(seg *segment) (*trimResult, error) {
	data, release, err := mapSegment(seg.path)
	if err != nil {
		return nil, err
	}
	res, err := readSegment(seg, data, 0, func(uint64, uint32, int, [][]byte) error { return nil })
	release()
	if err != nil && res.committed == 0 {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			ce.Segment = seg.name
		}
		return nil, err
	}

	tr := &trimResult{header: res.header, batches: res.batches, reason: err}
	if res.committed < res.size {
		tr.trimmed = res.size - res.committed
		if tr.reason == nil {
			tr.reason = errTornTail
		}
		if err := os.Truncate(seg.path, res.committed); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// mapSegment maps the whole segment file read-only. The mapping stays
// valid until release is called.
func mapSegment(path string) (data []byte, release func(), err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := st.Size()
	if size == 0 {
		return nil, func() {}, nil
	}
	if size > maxMapSize {
		return nil, nil, fmt.Errorf("%s: segment too large (%d bytes)", path, size)
	}

	data, err = mmap(f, int(size))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: mmap: %w", path, err)
	}
	return data, func() { munmap(data) }, nil
}
