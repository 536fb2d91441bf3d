package trace_test

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/sarchlab/champsim/trace"
)

func writeGzipTrace(t *testing.T, records []trace.Record) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.trace.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	for _, r := range records {
		if _, err := gz.Write(trace.Encode(r)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return path
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	r := trace.Record{
		IP:                   0x1000,
		IsBranch:             true,
		BranchTaken:          true,
		DestinationRegisters: [2]uint8{1, 2},
		SourceRegisters:      [4]uint8{3, 4, 5, 6},
		DestinationMemory:    [2]uint64{0x2000, 0x3000},
		SourceMemory:         [4]uint64{0x4000, 0x5000, 0x6000, 0x7000},
	}
	buf := trace.Encode(r)
	if len(buf) != trace.RecordSize {
		t.Fatalf("expected %d bytes, got %d", trace.RecordSize, len(buf))
	}
	got, err := trace.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got.BranchTarget = 0 // not part of the wire format
	if got != r {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, r)
	}
}

func TestReaderReopensOnEOF(t *testing.T) {
	records := []trace.Record{
		{IP: 0x100}, {IP: 0x104}, {IP: 0x108},
	}
	path := writeGzipTrace(t, records)

	r, err := trace.NewReader(path, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	for i := 0; i < len(records)*2+1; i++ {
		if _, err := r.Next(); err != nil {
			t.Fatalf("Next at %d: %v", i, err)
		}
	}
	if r.Reopens() < 2 {
		t.Fatalf("expected at least 2 reopens after reading past the file twice, got %d", r.Reopens())
	}
}

func TestLookaheadFillsBranchTarget(t *testing.T) {
	records := []trace.Record{
		{IP: 0x100, IsBranch: true, BranchTaken: true},
		{IP: 0x200},
		{IP: 0x300},
	}
	path := writeGzipTrace(t, records)

	r, err := trace.NewReader(path, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	lr := trace.NewLookaheadReader(r)
	rec, id, err := lr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.BranchTarget != 0x200 {
		t.Fatalf("expected branch target 0x200, got %#x", rec.BranchTarget)
	}
	if id == 0 {
		t.Fatalf("expected a nonzero unique instruction id")
	}
}
