// Package auditlog stores audit entries of completed units of work in
// append-only segment files.
//
// A Log implements edelta.AuditSink. Every AppendAudit call becomes one
// batch: a run of records (one msgpack-encoded AuditEntry each) followed by
// a commit marker. Readers only ever see committed batches.
//
// Segments rotate once they grow past MaxFileSize, or on Rotate. A torn
// tail left by a crash is trimmed when the log is reopened.
//
// File format:
//
//   - segment = header record* commit ...
//   - header = magic:64 version:8 pad:8 flags:16 pad:32 ordinal:32 timestamp:32 firstBatch:64 reserved:64*3 checksum:64
//   - record = (size<<1):uvarint timestampDelta:uvarint bytes*
//   - commit = (xxhash of everything before | 1):64
//
// The lowest bit of the first byte tells records (0) and commits (1) apart.
package auditlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andreyvit/edelta"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrClosed             = errors.New("audit log is closed")
	ErrCorrupted          = errors.New("corrupted audit segment")
	ErrUnsupportedVersion = errors.New("unsupported audit segment version")
)

type Options struct {
	Context     context.Context
	FileName    string // e.g. "audit-*.log"
	MaxFileSize int64  // new segment after this size
	Now         func() time.Time

	// Sync calls fdatasync after every batch.
	Sync bool

	Logger  *slog.Logger
	Verbose bool
}

const (
	DefaultFileName    = "audit-*.log"
	DefaultMaxFileSize = 4 * 1024 * 1024
)

func (o *Options) setDefaults() {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = DefaultFileName
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Log is a writable audit log. It is safe for concurrent use.
type Log struct {
	context        context.Context
	dir            string
	fileNamePrefix string
	fileNameSuffix string
	maxFileSize    int64
	now            func() time.Time
	sync           bool
	logger         *slog.Logger
	verbose        bool

	mu      sync.Mutex
	err     error
	closed  bool
	seg     uint32
	batches uint64
	w       *segmentWriter
	scratch bytes.Buffer
	recs    [][]byte
	buf     []byte
}

var _ edelta.AuditSink = (*Log)(nil)

// Open opens the audit log in dir, creating the directory if needed. The
// uncommitted or corrupted tail of the last segment is trimmed.
func Open(dir string, o Options) (*Log, error) {
	o.setDefaults()
	prefix, suffix, ok := strings.Cut(o.FileName, "*")
	if !ok {
		return nil, fmt.Errorf("auditlog: file name pattern %q has no '*'", o.FileName)
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	l := &Log{
		context:        o.Context,
		dir:            dir,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		maxFileSize:    o.MaxFileSize,
		now:            o.Now,
		sync:           o.Sync,
		logger:         o.Logger,
		verbose:        o.Verbose,
	}
	if err := l.trimTail(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) String() string {
	return l.dir
}

func (l *Log) Dir() string {
	return l.dir
}

// Batches returns the number of committed batches in the log.
func (l *Log) Batches() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches
}

func (l *Log) trimTail() error {
	segs, err := listSegments(l.dir, l.fileNamePrefix, l.fileNameSuffix)
	if err != nil {
		return err
	}
	for len(segs) > 0 {
		last := segs[len(segs)-1]
		res, err := trimSegment(last)
		if errors.Is(err, ErrCorrupted) {
			l.logger.LogAttrs(l.context, slog.LevelWarn, "auditlog: deleting corrupted segment", slog.String("file", last.name), slog.Any("err", err))
			if err := os.Remove(last.path); err != nil {
				return fmt.Errorf("auditlog: failed to delete corrupted segment: %w", err)
			}
			segs = segs[:len(segs)-1]
			continue
		} else if err != nil {
			return err
		}
		if res.trimmed > 0 {
			l.logger.LogAttrs(l.context, slog.LevelWarn, "auditlog: trimmed segment tail", slog.String("file", last.name), slog.Int64("bytes", res.trimmed), slog.Any("reason", res.reason))
		}
		l.seg = last.ordinal
		l.batches = res.header.FirstBatch - 1 + res.batches
		break
	}
	return nil
}

func (l *Log) timestamp() uint32 {
	v := l.now().Unix()
	if v < 0 || uint64(v)&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed")
	}
	return uint32(v)
}

// AppendAudit writes entries as one committed batch.
func (l *Log) AppendAudit(entries []edelta.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.err != nil {
		return l.err
	}

	if err := l.encode(entries); err != nil {
		return err
	}

	ts := l.timestamp()
	if l.w == nil {
		sw, err := startSegment(l, l.seg+1, ts, l.batches+1)
		if err != nil {
			return l.fail(err)
		}
		l.seg++
		l.w = sw
		if l.verbose {
			l.logger.LogAttrs(l.context, slog.LevelDebug, "auditlog: new segment", slog.String("file", sw.name))
		}
	}

	var err error
	l.buf, err = l.w.writeBatch(l.buf, ts, l.recs)
	if err != nil {
		return l.fail(err)
	}
	if l.sync {
		if err := fdatasync(l.w.f); err != nil {
			return l.fail(fmt.Errorf("fdatasync: %w", err))
		}
	}
	l.batches++

	if l.verbose {
		l.logger.LogAttrs(l.context, slog.LevelDebug, "auditlog: committed", slog.Uint64("batch", l.batches), slog.Int("entries", len(entries)), slog.Int64("size", l.w.size))
	}
	if l.w.size >= l.maxFileSize {
		l.closeSegment()
	}
	return nil
}

func (l *Log) encode(entries []edelta.AuditEntry) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	l.scratch.Reset()
	enc.Reset(&l.scratch)
	ends := make([]int, 0, len(entries))
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("auditlog: encoding %v: %w", &entries[i], err)
		}
		ends = append(ends, l.scratch.Len())
	}

	data := l.scratch.Bytes()
	l.recs = l.recs[:0]
	start := 0
	for _, end := range ends {
		l.recs = append(l.recs, data[start:end])
		start = end
	}
	return nil
}

// Rotate closes the current segment; the next batch starts a new one.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.err != nil {
		return l.err
	}
	return l.fail(l.closeSegment())
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeSegment()
}

func (l *Log) closeSegment() error {
	if l.w == nil {
		return nil
	}
	err := l.w.close()
	l.w = nil
	return err
}

// fail makes err sticky: no more batches are accepted after a write error,
// since the segment may now end with garbage.
func (l *Log) fail(err error) error {
	if err == nil {
		return nil
	}
	l.logger.LogAttrs(l.context, slog.LevelError, "auditlog: failed", slog.String("dir", l.dir), slog.Any("err", err))
	l.closeSegment()
	if l.err == nil {
		l.err = err
	}
	return err
}

// Scan calls fn for every committed batch, oldest first.
func (l *Log) Scan(fn func(b *Batch) error) error {
	return scan(l.context, l.dir, l.fileNamePrefix, l.fileNameSuffix, fn, nil)
}
