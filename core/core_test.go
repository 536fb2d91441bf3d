package core_test

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/channel"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/core"
	"github.com/sarchlab/champsim/ptw"
	"github.com/sarchlab/champsim/trace"
)

type harness struct {
	core *core.Core
	itlb *ptw.Walker
	dtlb *ptw.Walker
	l1i  *cache.Cache
	l1d  *cache.Cache
}

func serviceLower(ch *channel.Channel) {
	if ch == nil {
		return
	}
	for _, q := range []*channel.Queue{ch.RQ, ch.WQ, ch.PQ} {
		if req, ok := q.Pop(); ok {
			ch.Response.TryAdd(req)
		}
	}
}

func (h *harness) step(now clock.Time) {
	h.core.Operate(now)
	serviceLower(h.itlb.Lower)
	h.itlb.Operate(now)
	serviceLower(h.dtlb.Lower)
	h.dtlb.Operate(now)
	serviceLower(h.l1i.Lower)
	h.l1i.Operate(now)
	if h.l1d.Lower != nil {
		serviceLower(h.l1d.Lower)
	}
	h.l1d.Operate(now)
}

func writeTrace(t *testing.T, records []trace.Record) string {
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

// blockL1D controls whether S6's harness leaves L1D with no Lower,
// emulating an indefinitely blocked L1D→L2 channel.
func newHarness(t *testing.T, records []trace.Record, deadlockCycles uint64, blockL1D bool) *harness {
	t.Helper()
	path := writeTrace(t, records)
	reader, err := trace.NewReader(path, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	lr := trace.NewLookaheadReader(reader)

	itlb := ptw.New(ptw.Config{
		Name: "ITLB", Levels: 2, Log2PageSize: 12, Log2BlockSize: 6,
		MaxRead: 4, MaxFill: 4, HitLatency: 1,
	}, nil)
	itlb.Lower = channel.New(channel.Config{Name: "ITLB.Lower", RQSize: 8, WQSize: 8, PQSize: 8, ResponseSize: 8, Log2BlockSize: 6})

	dtlb := ptw.New(ptw.Config{
		Name: "DTLB", Levels: 2, Log2PageSize: 12, Log2BlockSize: 6,
		MaxRead: 4, MaxFill: 4, HitLatency: 1,
	}, nil)
	dtlb.Lower = channel.New(channel.Config{Name: "DTLB.Lower", RQSize: 8, WQSize: 8, PQSize: 8, ResponseSize: 8, Log2BlockSize: 6})

	l1i := cache.New(cache.Config{
		Name: "L1I", Sets: 2, Ways: 2, BlockSize: 64, HitLatency: 1, FillLatency: 2, MSHRSize: 4,
		RQSize: 8, WQSize: 8, PQSize: 8, ResponseSize: 8,
	}, 6, nil, nil)
	l1i.Lower = channel.New(channel.Config{Name: "L1I.Lower", RQSize: 8, WQSize: 8, PQSize: 8, ResponseSize: 8, Log2BlockSize: 6})

	l1d := cache.New(cache.Config{
		Name: "L1D", Sets: 2, Ways: 2, BlockSize: 64, HitLatency: 1, FillLatency: 2, MSHRSize: 4,
		RQSize: 8, WQSize: 8, PQSize: 8, ResponseSize: 8,
	}, 6, nil, nil)
	if !blockL1D {
		l1d.Lower = channel.New(channel.Config{Name: "L1D.Lower", RQSize: 8, WQSize: 8, PQSize: 8, ResponseSize: 8, Log2BlockSize: 6})
	}

	cfg := core.Config{
		CPU: 0,
		FetchWidth: 4, DecodeWidth: 4, DispatchWidth: 4, ScheduleWidth: 8, ExecWidth: 4, RetireWidth: 4,
		FetchBufferSize: 8, DecodeBufferSize: 8, DispatchBufferSize: 8,
		ROBSize: 16, LQSize: 4, SQSize: 4,
		ExecLatency: 1, MispredictPenalty: 10, DeadlockCycles: deadlockCycles,
		Log2BlockSize: 6, Log2PageSize: 12,
		DIBSets: 4, DIBWays: 2, DIBLog2Window: 6,
	}

	co := core.NewCore(cfg, lr, core.Dependencies{ITLB: itlb, L1I: l1i, DTLB: dtlb, L1D: l1d})

	return &harness{core: co, itlb: itlb, dtlb: dtlb, l1i: l1i, l1d: l1d}
}

// TestStoreToLoadForwarding (spec.md §8 scenario S3): a load reading the
// same address an older in-flight store writes never accesses L1D;
// its physical address comes from the store's own translation.
func TestStoreToLoadForwarding(t *testing.T) {
	records := []trace.Record{
		{IP: 0x100, DestinationMemory: [2]uint64{0x5000, 0}},
		{IP: 0x104, SourceMemory: [4]uint64{0x5000, 0, 0, 0}},
		{IP: 0x108},
	}
	h := newHarness(t, records, 1_000_000, false)

	var now clock.Time
	for i := 0; i < 500 && h.core.Stats().Retired < 2; i++ {
		now++
		h.step(now)
	}

	if h.core.Stats().Retired < 2 {
		t.Fatalf("expected both instructions to retire, got %d", h.core.Stats().Retired)
	}
	if h.l1d.Stats().Accesses != 0 {
		t.Fatalf("expected the forwarded load to never tag-check L1D, got %d accesses", h.l1d.Stats().Accesses)
	}
}

// TestDeadlockDetection (spec.md §8 scenario S6): an indefinitely
// blocked L1D→L2 channel must trip the deadlock threshold on CPU 0.
func TestDeadlockDetection(t *testing.T) {
	records := []trace.Record{
		{IP: 0x200, SourceMemory: [4]uint64{0x9000, 0, 0, 0}},
		{IP: 0x204},
	}
	h := newHarness(t, records, 50, true)

	var now clock.Time
	var deadlock error
	for i := 0; i < 2000; i++ {
		now++
		h.step(now)
		if err := h.core.CheckDeadlock(uint64(now)); err != nil {
			deadlock = err
			break
		}
	}

	if deadlock == nil {
		t.Fatalf("expected a deadlock to be detected")
	}
	var derr *core.DeadlockError
	if !asDeadlockError(deadlock, &derr) {
		t.Fatalf("expected a *core.DeadlockError, got %T: %v", deadlock, deadlock)
	}
	if derr.CPU != 0 {
		t.Fatalf("expected deadlock reported on CPU 0, got %d", derr.CPU)
	}
}

func asDeadlockError(err error, target **core.DeadlockError) bool {
	de, ok := err.(*core.DeadlockError)
	if ok {
		*target = de
	}
	return ok
}
