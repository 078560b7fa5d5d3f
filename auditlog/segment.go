package auditlog

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	magic          = 0x474f4c5449445541 // "AUDITLOG" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 8 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	_              uint32
	SegmentOrdinal uint32
	Timestamp      uint32
	FirstBatch     uint64
	_              [3]uint64
	Checksum       uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	commitSize            = 8
	timestampFmt          = "20060102T150405"
)

type segment struct {
	name    string
	path    string
	ordinal uint32
	ts      uint32
	first   uint64
}

func listSegments(dir, prefix, suffix string) ([]*segment, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []*segment
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		ord, ts, first, err := parseSegmentName(prefix, suffix, name)
		if err != nil {
			return nil, err
		}
		segs = append(segs, &segment{name, filepath.Join(dir, name), ord, ts, first})
	}
	slices.SortFunc(segs, func(a, b *segment) int {
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	return segs, nil
}

type segmentWriter struct {
	f    *os.File
	name string
	ts   uint32
	size int64
	hash xxhash.Digest
}

func startSegment(l *Log, ord, ts uint32, firstBatch uint64) (*segmentWriter, error) {
	name := formatSegmentName(l.fileNamePrefix, l.fileNameSuffix, ord, ts, firstBatch)
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		name: name,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], ord, ts, firstBatch)
	sw.hash.Write(hbuf[:])

	if _, err := f.Write(hbuf[:]); err != nil {
		return nil, err
	}

	ok = true
	return sw, nil
}

// writeBatch appends records and a commit to the segment with a single
// write, reusing buf.
func (sw *segmentWriter) writeBatch(buf []byte, ts uint32, recs [][]byte) ([]byte, error) {
	b := buf[:0]
	for _, rec := range recs {
		var tsDelta uint32
		if ts > sw.ts {
			tsDelta = ts - sw.ts
			sw.ts = ts
		}
		b = appendRecordHeader(b, len(rec), tsDelta)
		b = append(b, rec...)
	}
	sw.hash.Write(b)
	b = binary.LittleEndian.AppendUint64(b, sw.hash.Sum64()|uint64(recordFlagCommit))
	sw.hash.Write(b[len(b)-commitSize:])

	n, err := sw.f.Write(b)
	sw.size += int64(n)
	return b, err
}

func (sw *segmentWriter) close() error {
	if sw.f == nil {
		return nil
	}
	err := sw.f.Close()
	sw.f = nil
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, ord, ts uint32, firstBatch uint64) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: ord,
		Timestamp:      ts,
		FirstBatch:     firstBatch,
	}
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], xxhash.Sum64(buf[:segmentHeaderSize-8]))
}

func decodeSegmentHeader(data []byte, h *segmentHeader) error {
	if len(data) < segmentHeaderSize {
		return errorf(0, "truncated header")
	}
	n, err := binary.Decode(data[:segmentHeaderSize], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}
	if h.Magic != magic {
		return errorf(0, "bad magic %016x", h.Magic)
	}
	if xxhash.Sum64(data[:segmentHeaderSize-8]) != h.Checksum {
		return errorf(0, "header checksum mismatch")
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	return nil
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, ord, ts uint32, firstBatch uint64) string {
	t := time.Unix(int64(ts), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, ord, t.Format(timestampFmt), firstBatch, suffix)
}

func parseSegmentName(prefix, suffix, name string) (ord, ts uint32, firstBatch uint64, err error) {
	s, ok := strings.CutPrefix(name, prefix)
	if ok {
		s, ok = strings.CutSuffix(s, suffix)
	}
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}

	ordStr, rem, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(ordStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	ord = uint32(v)

	tsStr, batchStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	firstBatch, err = strconv.ParseUint(batchStr, 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid batch number)", name)
	}
	return ord, ts, firstBatch, nil
}
