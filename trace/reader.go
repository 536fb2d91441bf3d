package trace

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ulikunitz/xz"
)

// nextInstrID is the process-wide unique instruction id counter, mirroring
// champsim::tracereader::instr_unique_id (a single counter shared by every
// reader in a run, not reset per-CPU).
var nextInstrID uint64

func allocateInstrID() uint64 {
	return atomic.AddUint64(&nextInstrID, 1)
}

// decompressingReadCloser wraps a non-closing decompression reader (such
// as bzip2.NewReader, which returns a plain io.Reader) together with the
// underlying file so both layers close together.
type decompressingReadCloser struct {
	io.Reader
	under io.Closer
}

func (d decompressingReadCloser) Close() error { return d.under.Close() }

// openTrace opens path, selecting a decompressor from its suffix: .gz
// uses compress/gzip, .xz uses github.com/ulikunitz/xz (stdlib has no xz
// support), .bz2 uses stdlib compress/bzip2 (decompression-only, which is
// all a read-only trace stream needs); anything else is read raw.
func openTrace(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return decompressingReadCloser{Reader: gz, under: f}, nil
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return decompressingReadCloser{Reader: xr, under: f}, nil
	case strings.HasSuffix(path, ".bz2"):
		return decompressingReadCloser{Reader: bzip2.NewReader(f), under: f}, nil
	default:
		return f, nil
	}
}

// Reader streams decoded Records from a trace file, reopening it from
// the start whenever it runs dry (champsim::repeatable's behavior:
// traces are meant to be looped when a phase outlasts the instruction
// count they contain).
type Reader struct {
	path    string
	cpu     int
	current io.ReadCloser
	buf     [RecordSize]byte
	reopens int
}

// NewReader opens path for cpu. The cpu index is stored on the Reader
// only; it affects neither decoding nor the instruction ids assigned.
func NewReader(path string, cpu int) (*Reader, error) {
	rc, err := openTrace(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &Reader{path: path, cpu: cpu, current: rc}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.current == nil {
		return nil
	}
	return r.current.Close()
}

// Reopens reports how many times the trace has looped back to its start.
func (r *Reader) Reopens() int { return r.reopens }

// Next decodes the next record, transparently reopening the trace from
// the beginning on EOF.
func (r *Reader) Next() (Record, error) {
	rec, err := r.readOne()
	if err == io.EOF {
		if reopenErr := r.reopen(); reopenErr != nil {
			return Record{}, reopenErr
		}
		rec, err = r.readOne()
		if err == io.EOF {
			return Record{}, fmt.Errorf("trace: %s is empty", r.path)
		}
	}
	return rec, err
}

func (r *Reader) readOne() (Record, error) {
	if _, err := io.ReadFull(r.current, r.buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	return Decode(r.buf[:])
}

func (r *Reader) reopen() error {
	r.current.Close()
	rc, err := openTrace(r.path)
	if err != nil {
		return fmt.Errorf("trace: reopen %s: %w", r.path, err)
	}
	r.current = rc
	r.reopens++
	return nil
}

// LookaheadReader pairs each record with the next record's IP as its
// BranchTarget when it is a taken branch, mirroring
// champsim::apply_branch_target's one-ahead zip transform, and assigns
// each emitted record a process-unique instruction id.
type LookaheadReader struct {
	inner   *Reader
	pending *Record
	ids     func() uint64
}

// NewLookaheadReader wraps inner with one record of lookahead.
func NewLookaheadReader(inner *Reader) *LookaheadReader {
	return &LookaheadReader{inner: inner, ids: allocateInstrID}
}

// Next returns the next (record, instruction id) pair with BranchTarget
// resolved.
func (l *LookaheadReader) Next() (Record, uint64, error) {
	var current Record
	if l.pending != nil {
		current = *l.pending
	} else {
		rec, err := l.inner.Next()
		if err != nil {
			return Record{}, 0, err
		}
		current = rec
	}

	next, err := l.inner.Next()
	if err != nil {
		return Record{}, 0, err
	}
	l.pending = &next

	if current.IsBranch && current.BranchTaken {
		current.BranchTarget = next.IP
	} else {
		current.BranchTarget = 0
	}

	return current, l.ids(), nil
}

// Close releases the underlying reader.
func (l *LookaheadReader) Close() error { return l.inner.Close() }
