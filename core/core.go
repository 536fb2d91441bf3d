package core

import (
	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/clock"
	"github.com/sarchlab/champsim/dib"
	"github.com/sarchlab/champsim/instr"
	"github.com/sarchlab/champsim/ptw"
	"github.com/sarchlab/champsim/request"
	"github.com/sarchlab/champsim/trace"
	"github.com/sarchlab/champsim/waitable"
)

// Statistics mirrors the per-CPU printable statistics of spec.md §6.
type Statistics struct {
	Retired          uint64
	Branches         uint64
	Mispredictions   uint64
	MispredictsByType map[instr.BranchType]uint64
}

func newStatistics() Statistics {
	return Statistics{Mispredictions: 0, MispredictsByType: make(map[instr.BranchType]uint64)}
}

// Core is one out-of-order pipeline instance driving a single trace.
// Every buffer is kept as a plain ordered slice; "capacity" is enforced
// on append, never by a fixed ring allocation, since the slice itself
// is the source of truth for occupancy and ordering.
type Core struct {
	cfg Config

	trace *trace.LookaheadReader

	dib *dib.Buffer

	predictor Predictor
	btb       BTB

	itlb *ptw.Walker
	l1i  *cache.Cache
	dtlb *ptw.Walker
	l1d  *cache.Cache

	fetchBuffer    []*instr.Instr
	decodeBuffer   []*instr.Instr
	dispatchBuffer []*instr.Instr
	rob            []*instr.Instr
	byID           map[uint64]*instr.Instr

	lq []instr.LSQEntry
	sq []instr.LSQEntry

	// sqAwait preserves program order for SQ allocation: an instruction
	// waits here until every older store has already claimed its slot,
	// matching spec.md §4.1's "front-queue of awaiting store instructions".
	sqAwait []uint64

	readyToExecute []uint64
	executing      []uint64

	fetchStall       bool
	fetchResumeCycle uint64

	stats Statistics

	fetchDeadlock    deadlockTracker
	decodeDeadlock   deadlockTracker
	dispatchDeadlock deadlockTracker
	robDeadlock      deadlockTracker
}

// Dependencies bundles the memory-hierarchy endpoints a Core is wired
// against: its private ITLB/L1I (instruction side) and DTLB/L1D (data
// side). Every other cache level is reached transitively through
// L1I.Lower / L1D.Lower / DTLB/ITLB.Lower, set up by the caller (sim
// package), not by Core itself.
type Dependencies struct {
	ITLB *ptw.Walker
	L1I  *cache.Cache
	DTLB *ptw.Walker
	L1D  *cache.Cache

	DIB       *dib.Buffer
	Predictor Predictor
	BTB       BTB
}

// NewCore constructs a Core reading tr, wired against deps.
func NewCore(cfg Config, tr *trace.LookaheadReader, deps Dependencies) *Core {
	predictor := deps.Predictor
	if predictor == nil {
		predictor = NopPredictor{}
	}
	btb := deps.BTB
	if btb == nil {
		btb = NopBTB{}
	}
	d := deps.DIB
	if d == nil {
		d = dib.New(cfg.DIBSets, cfg.DIBWays, cfg.DIBLog2Window)
	}

	c := &Core{
		cfg:       cfg,
		trace:     tr,
		dib:       d,
		predictor: predictor,
		btb:       btb,
		itlb:      deps.ITLB,
		l1i:       deps.L1I,
		dtlb:      deps.DTLB,
		l1d:       deps.L1D,
		byID:      make(map[uint64]*instr.Instr),
		lq:        make([]instr.LSQEntry, cfg.LQSize),
		sq:        make([]instr.LSQEntry, cfg.SQSize),
		stats:     newStatistics(),
	}
	return c
}

func (c *Core) Name() string       { return "core" }
func (c *Core) Period() clock.Time { return 1 }

// Stats returns a copy of the current per-CPU statistics.
func (c *Core) Stats() Statistics { return c.stats }

// BufferOccupancy reports, for the diagnostic dump (spec.md §7), the
// current length of every pipeline buffer the deadlock tracker watches
// plus the number of valid LQ/SQ slots.
func (c *Core) BufferOccupancy() map[string]int {
	lqUsed, _, sqUsed, _ := c.LSQOccupancy()
	return map[string]int{
		"fetch_buffer":    len(c.fetchBuffer),
		"decode_buffer":   len(c.decodeBuffer),
		"dispatch_buffer": len(c.dispatchBuffer),
		"rob":             len(c.rob),
		"lq":              lqUsed,
		"sq":              sqUsed,
	}
}

// ClearWarmupDependencies implements spec.md §5's warmup-exit contract:
// "clears warmed-up instruction register deps to zero so the pipeline
// does not stall on predictor training." Called once, when a simulation
// transitions out of warmup, on every in-flight instruction still
// carrying register-dependency counts built up under warmup's relaxed
// (same-tick DRAM, zero-fill-latency) timing.
func (c *Core) ClearWarmupDependencies() {
	for _, in := range c.rob {
		if in.NumRegDependent == 0 || in.Executed {
			continue
		}
		in.NumRegDependent = 0
		in.RegistersInstrsDependOnMe = nil
		if in.Scheduled && !in.IsMemory {
			c.readyToExecute = append(c.readyToExecute, in.InstrID)
		}
	}
}

// LSQOccupancy reports how many of the LQ/SQ slots are currently valid.
func (c *Core) LSQOccupancy() (lqUsed, lqCap, sqUsed, sqCap int) {
	for _, e := range c.lq {
		if e.Valid {
			lqUsed++
		}
	}
	for _, e := range c.sq {
		if e.Valid {
			sqUsed++
		}
	}
	return lqUsed, len(c.lq), sqUsed, len(c.sq)
}

func (c *Core) pageOf(addr uint64) uint64 { return addr >> c.cfg.Log2PageSize }

func (c *Core) blockAddr(addr uint64) uint64 {
	mask := (uint64(1) << c.cfg.Log2BlockSize) - 1
	return addr &^ mask
}

func (c *Core) pageAddr(addr uint64) uint64 {
	mask := (uint64(1) << c.cfg.Log2PageSize) - 1
	return addr &^ mask
}

// spliceIntoPage overwrites vaddr's page-offset bits into a page-aligned
// physical page number, matching the "splice" operation spec.md §4.1
// names for instruction_pa construction.
func (c *Core) spliceIntoPage(physicalPage, vaddr uint64) uint64 {
	mask := (uint64(1) << c.cfg.Log2PageSize) - 1
	return (physicalPage &^ mask) | (vaddr & mask)
}

// Operate advances the core by one cycle, running the twelve sub-stages
// in the mandatory order of spec.md §4.1. Each stage drains into the
// next within the same tick; only handle_memory_return's effects are
// deferred to the following tick (its inputs were produced by lower
// levels' own Operate this same tick, already ordered after the core's
// in the engine's registration order).
func (c *Core) Operate(tick clock.Time) bool {
	now := uint64(tick)
	progress := false

	if c.retire(now) {
		progress = true
	}
	if c.complete(now) {
		progress = true
	}
	if c.execute(now) {
		progress = true
	}
	if c.schedule(now) {
		progress = true
	}
	if c.handleMemoryReturn(now) {
		progress = true
	}
	if c.operateLSQ(now) {
		progress = true
	}
	if c.scheduleMemory(now) {
		progress = true
	}
	if c.dispatch(now) {
		progress = true
	}
	if c.decode(now) {
		progress = true
	}
	if c.promoteToDecode(now) {
		progress = true
	}
	if c.fetch(now) {
		progress = true
	}
	if c.dibStage(now) {
		progress = true
	}

	return progress
}

// CheckDeadlock reports a DeadlockError if any buffer's head entry has
// been stuck for more than cfg.DeadlockCycles ticks.
func (c *Core) CheckDeadlock(now uint64) error {
	if err := c.checkBuffer(&c.fetchDeadlock, "fetch_buffer", now, c.fetchBuffer); err != nil {
		return err
	}
	if err := c.checkBuffer(&c.decodeDeadlock, "decode_buffer", now, c.decodeBuffer); err != nil {
		return err
	}
	if err := c.checkBuffer(&c.dispatchDeadlock, "dispatch_buffer", now, c.dispatchBuffer); err != nil {
		return err
	}
	if err := c.checkBuffer(&c.robDeadlock, "rob", now, c.rob); err != nil {
		return err
	}
	return nil
}

func (c *Core) checkBuffer(tr *deadlockTracker, name string, now uint64, buf []*instr.Instr) error {
	if len(buf) == 0 {
		tr.Observe(now, 0, false)
		return nil
	}
	stuck := tr.Observe(now, buf[0].InstrID, true)
	if stuck > c.cfg.DeadlockCycles {
		return &DeadlockError{CPU: c.cfg.CPU, Buffer: name, Cycles: stuck, Threshold: c.cfg.DeadlockCycles}
	}
	return nil
}

// ---- Retire ----

func (c *Core) retire(now uint64) bool {
	progress := false
	retired := 0
	for retired < c.cfg.RetireWidth && len(c.rob) > 0 {
		head := c.rob[0]
		if !head.Executed {
			break
		}

		blocked := false
		for i := range head.SQIndex {
			idx := head.SQIndex[i]
			if idx < 0 || !c.sq[idx].Valid {
				continue
			}
			w := request.Request{
				Address:  c.sq[idx].PhysicalAddr,
				VAddress: c.sq[idx].VirtualAddr,
				Type:     request.Write,
				CPU:      c.cfg.CPU,
				InstrID:  head.InstrID,
			}
			if !c.l1d.Channel.WQ.TryAdd(w) {
				blocked = true
				break
			}
			c.sq[idx] = instr.LSQEntry{}
			head.SQIndex[i] = -1
		}
		if blocked {
			break
		}

		for i := range head.LQIndex {
			idx := head.LQIndex[i]
			if idx >= 0 {
				c.lq[idx] = instr.LSQEntry{}
				head.LQIndex[i] = -1
			}
		}

		head.Retired = true
		delete(c.byID, head.InstrID)
		c.rob = c.rob[1:]
		retired++
		c.stats.Retired++
		progress = true
	}
	return progress
}

// ---- Complete ----

func (c *Core) complete(now uint64) bool {
	progress := false
	completed := 0

	var stillExecuting []uint64
	for _, id := range c.executing {
		if completed >= c.cfg.ExecWidth {
			stillExecuting = append(stillExecuting, id)
			continue
		}
		in, ok := c.byID[id]
		if !ok || in.Retired {
			continue
		}
		if uint64(in.EventCycle) > now {
			stillExecuting = append(stillExecuting, id)
			continue
		}
		c.finishInstruction(in)
		completed++
		progress = true
	}
	c.executing = stillExecuting

	for _, in := range c.rob {
		if completed >= c.cfg.ExecWidth {
			break
		}
		if !in.IsMemory || in.Executed || !in.Scheduled {
			continue
		}
		if in.NumRegDependent > 0 || in.OutstandingMemOps > 0 {
			continue
		}
		c.finishInstruction(in)
		completed++
		progress = true
	}

	return progress
}

func (c *Core) finishInstruction(in *instr.Instr) {
	in.Executed = true
	in.Completed = true
	for _, depID := range in.RegistersInstrsDependOnMe {
		dep, ok := c.byID[uint64(depID)]
		if !ok {
			continue
		}
		if dep.NumRegDependent > 0 {
			dep.NumRegDependent--
		}
		if dep.NumRegDependent == 0 && dep.Scheduled && !dep.IsMemory {
			c.readyToExecute = append(c.readyToExecute, dep.InstrID)
		}
	}
}

// ---- Execute ----

func (c *Core) execute(now uint64) bool {
	progress := false
	popped := 0
	for popped < c.cfg.ExecWidth && len(c.readyToExecute) > 0 {
		id := c.readyToExecute[0]
		c.readyToExecute = c.readyToExecute[1:]
		in, ok := c.byID[id]
		if !ok {
			continue
		}
		in.EventCycle = waitable.Time(now + c.cfg.ExecLatency)
		c.executing = append(c.executing, id)
		popped++
		progress = true

		if in.IsBranch {
			c.resolveExecuteBranch(now, in)
		}
	}
	return progress
}

func (c *Core) resolveExecuteBranch(now uint64, in *instr.Instr) {
	switch in.BranchType {
	case instr.DirectJump, instr.DirectCall:
		return // resolved at decode
	}

	c.stats.Branches++
	predictedTaken := c.predictor.Predict(in.IP, in.BranchType)
	target, known := c.btb.Predict(in.IP, in.BranchType)

	mispredicted := predictedTaken != in.BranchTaken
	if predictedTaken && in.BranchTaken && (!known || target != in.BranchTarget) {
		mispredicted = true
	}

	c.predictor.Update(in.IP, in.BranchType, in.BranchTaken)
	c.btb.Update(in.IP, in.BranchTarget, in.BranchType, in.BranchTaken)

	if mispredicted {
		in.BranchMispredicted = true
		c.stats.Mispredictions++
		c.stats.MispredictsByType[in.BranchType]++
		c.triggerMispredict(now, in)
	}
}

// triggerMispredict implements spec.md §4.1's branch-handling contract:
// stall fetch until the penalty elapses and flush everything upstream
// of the mispredicting instruction (the trace reader itself is never
// rewound — it already emits the correct post-branch IP stream).
func (c *Core) triggerMispredict(now uint64, at *instr.Instr) {
	c.fetchStall = true
	c.fetchResumeCycle = now + c.cfg.MispredictPenalty

	c.fetchBuffer = nil
	c.decodeBuffer = nil
	c.dispatchBuffer = nil

	kept := c.rob[:0:0]
	flushing := false
	for _, in := range c.rob {
		if in.InstrID == at.InstrID {
			flushing = true
			kept = append(kept, in)
			continue
		}
		if flushing && !in.Executed {
			delete(c.byID, in.InstrID)
			continue
		}
		kept = append(kept, in)
	}
	c.rob = kept
}

// ---- Schedule ----

func (c *Core) schedule(now uint64) bool {
	progress := false
	scanned := 0
	for _, in := range c.rob {
		if scanned >= c.cfg.ScheduleWidth {
			break
		}
		if in.Scheduled {
			continue
		}
		scanned++
		c.computeRAW(in)
		in.Scheduled = true
		progress = true

		if !in.IsMemory && in.NumRegDependent == 0 {
			c.readyToExecute = append(c.readyToExecute, in.InstrID)
		}
	}
	return progress
}

// computeRAW reverse-walks the ROB (nearest producer first) for each
// nonzero source register, recording the dependency edge on the
// producer and incrementing in's outstanding register-dependent count.
func (c *Core) computeRAW(in *instr.Instr) {
	idx := -1
	for i, r := range c.rob {
		if r.InstrID == in.InstrID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	for _, src := range in.SourceRegisters {
		if src == 0 {
			continue
		}
		for j := idx - 1; j >= 0; j-- {
			producer := c.rob[j]
			found := false
			for _, dst := range producer.DestinationRegisters {
				if dst == src {
					found = true
					break
				}
			}
			if !found {
				continue
			}
			if producer.Executed {
				break
			}
			producer.RegistersInstrsDependOnMe = append(producer.RegistersInstrsDependOnMe, int(in.InstrID))
			in.NumRegDependent++
			break
		}
	}
}

// ---- Handle memory return ----

func (c *Core) handleMemoryReturn(now uint64) bool {
	progress := false

	if c.itlb != nil {
		for {
			resp, ok := c.itlb.Channel.Response.Pop()
			if !ok {
				break
			}
			page := c.pageOf(resp.VAddress)
			for _, in := range c.fetchBuffer {
				if in.Translated || c.pageOf(in.IP) != page {
					continue
				}
				in.Translated = true
				in.InstructionPA = c.spliceIntoPage(resp.Address, in.IP)
			}
			progress = true
		}
	}

	if c.l1i != nil {
		for {
			resp, ok := c.l1i.Channel.Response.Pop()
			if !ok {
				break
			}
			block := c.blockAddr(resp.Address)
			for _, in := range c.fetchBuffer {
				if !in.Translated || in.Fetched || c.blockAddr(in.InstructionPA) != block {
					continue
				}
				in.Fetched = true
			}
			progress = true
		}
	}

	if c.dtlb != nil {
		for {
			resp, ok := c.dtlb.Channel.Response.Pop()
			if !ok {
				break
			}
			page := c.pageOf(resp.VAddress)
			for i := range c.lq {
				if !c.lq[i].Valid || c.lq[i].Translated || c.pageOf(c.lq[i].VirtualAddr) != page {
					continue
				}
				c.lq[i].Translated = true
				c.lq[i].PhysicalAddr = c.spliceIntoPage(resp.Address, c.lq[i].VirtualAddr)
			}
			for i := range c.sq {
				if !c.sq[i].Valid || c.sq[i].Translated || c.pageOf(c.sq[i].VirtualAddr) != page {
					continue
				}
				c.sq[i].Translated = true
				c.sq[i].PhysicalAddr = c.spliceIntoPage(resp.Address, c.sq[i].VirtualAddr)
				for _, lqIdx := range c.sq[i].ForwardDependents {
					c.lq[lqIdx].Translated = true
					c.lq[lqIdx].PhysicalAddr = c.sq[i].PhysicalAddr
					c.lq[lqIdx].Fetched.ReadyAt(waitable.Time(now))
					if in, ok := c.byID[c.lq[lqIdx].InstrID]; ok && in.OutstandingMemOps > 0 {
						in.OutstandingMemOps--
					}
				}
				c.sq[i].ForwardDependents = nil
			}
			progress = true
		}
	}

	if c.l1d != nil {
		for {
			resp, ok := c.l1d.Channel.Response.Pop()
			if !ok {
				break
			}
			for _, idx := range resp.LQIndexDependOnMe {
				if idx < 0 || idx >= len(c.lq) {
					continue
				}
				c.lq[idx].Fetched.ReadyAt(waitable.Time(now))
				if in, ok := c.byID[c.lq[idx].InstrID]; ok && in.OutstandingMemOps > 0 {
					in.OutstandingMemOps--
				}
			}
			progress = true
		}
	}

	return progress
}

// ---- Operate LSQ ----

func (c *Core) operateLSQ(now uint64) bool {
	progress := false

	for i := range c.lq {
		e := &c.lq[i]
		if !e.Valid {
			continue
		}
		if !e.Translated && !e.TranslationRequested && c.dtlb != nil {
			req := request.Request{Address: e.VirtualAddr, VAddress: e.VirtualAddr, Type: request.Translation, CPU: c.cfg.CPU, InstrID: e.InstrID}
			if c.dtlb.Channel.RQ.TryAdd(req) {
				e.TranslationRequested = true
				progress = true
			}
			continue
		}
		if e.Translated && !e.MemRequested && c.l1d != nil {
			req := request.Request{
				Address: e.PhysicalAddr, VAddress: e.VirtualAddr, Type: request.Load,
				CPU: c.cfg.CPU, InstrID: e.InstrID, Translated: true,
				ResponseRequested: true, LQIndexDependOnMe: []int{i},
			}
			if c.l1d.Channel.RQ.TryAdd(req) {
				e.MemRequested = true
				progress = true
			}
		}
	}

	for i := range c.sq {
		e := &c.sq[i]
		if !e.Valid || e.Translated || e.TranslationRequested || c.dtlb == nil {
			continue
		}
		req := request.Request{Address: e.VirtualAddr, VAddress: e.VirtualAddr, Type: request.Translation, CPU: c.cfg.CPU, InstrID: e.InstrID}
		if c.dtlb.Channel.RQ.TryAdd(req) {
			e.TranslationRequested = true
			progress = true
		}
	}

	return progress
}

// ---- Schedule memory ----

func (c *Core) scheduleMemory(now uint64) bool {
	progress := false

	for _, in := range c.rob {
		if !in.IsMemory || !in.Scheduled || in.NumRegDependent > 0 {
			continue
		}

		for i, vaddr := range in.SourceMemory {
			if vaddr == 0 || in.LQIndex[i] != -1 {
				continue
			}
			slot := c.allocLQ()
			if slot < 0 {
				continue
			}
			entry := instr.LSQEntry{Valid: true, InstrID: in.InstrID, VirtualAddr: vaddr}
			in.OutstandingMemOps++

			if producerIdx := c.findStoreForward(vaddr, in.InstrID); producerIdx >= 0 {
				producer := &c.sq[producerIdx]
				entry.ProducerID = producer.InstrID
				// The load never touches DTLB/L1D itself: it is entirely
				// satisfied by the producing store's own translation.
				entry.TranslationRequested = true
				entry.MemRequested = true
				if producer.Translated {
					entry.Translated = true
					entry.PhysicalAddr = producer.PhysicalAddr
					entry.Fetched.ReadyAt(waitable.Time(now))
					in.OutstandingMemOps--
				} else {
					producer.ForwardDependents = append(producer.ForwardDependents, slot)
				}
			}
			c.lq[slot] = entry
			in.LQIndex[i] = slot
			progress = true
		}

		needsStoreSlot := false
		for i, vaddr := range in.DestinationMemory {
			if vaddr != 0 && in.SQIndex[i] == -1 {
				needsStoreSlot = true
			}
		}
		if needsStoreSlot {
			c.enqueueStoreAwait(in.InstrID)
		}
	}

	progress = c.drainStoreAwait(now) || progress

	return progress
}

func (c *Core) allocLQ() int {
	for i := range c.lq {
		if !c.lq[i].Valid {
			return i
		}
	}
	return -1
}

func (c *Core) allocSQ() int {
	for i := range c.sq {
		if !c.sq[i].Valid {
			return i
		}
	}
	return -1
}

// findStoreForward implements store-to-load forwarding (spec.md §4.1,
// scenario S3): a load whose virtual address matches an older SQ entry
// is satisfied entirely by that store, whether or not it has finished
// translating yet — the load registers as a forward-dependent and is
// woken once the store's own translation completes, rather than ever
// issuing its own DTLB/L1D access.
func (c *Core) findStoreForward(vaddr uint64, loadID uint64) int {
	best := -1
	for i := range c.sq {
		e := &c.sq[i]
		if !e.Valid || e.VirtualAddr != vaddr || e.InstrID >= loadID {
			continue
		}
		if best < 0 || e.InstrID > c.sq[best].InstrID {
			best = i
		}
	}
	return best
}

func (c *Core) enqueueStoreAwait(id uint64) {
	for _, q := range c.sqAwait {
		if q == id {
			return
		}
	}
	c.sqAwait = append(c.sqAwait, id)
}

// drainStoreAwait allocates SQ slots in program order: the oldest
// awaiting store claims the next free slot before any younger one,
// matching spec.md §4.1's front-queue requirement.
func (c *Core) drainStoreAwait(now uint64) bool {
	progress := false
	for len(c.sqAwait) > 0 {
		id := c.sqAwait[0]
		in, ok := c.byID[id]
		if !ok {
			c.sqAwait = c.sqAwait[1:]
			continue
		}
		allocatedAll := true
		for i, vaddr := range in.DestinationMemory {
			if vaddr == 0 || in.SQIndex[i] != -1 {
				continue
			}
			slot := c.allocSQ()
			if slot < 0 {
				allocatedAll = false
				break
			}
			c.sq[slot] = instr.LSQEntry{Valid: true, IsStore: true, InstrID: in.InstrID, VirtualAddr: vaddr}
			in.SQIndex[i] = slot
			progress = true
		}
		if !allocatedAll {
			break
		}
		c.sqAwait = c.sqAwait[1:]
	}
	return progress
}

// ---- Dispatch ----

func (c *Core) dispatch(now uint64) bool {
	progress := false
	moved := 0
	for moved < c.cfg.DispatchWidth && len(c.dispatchBuffer) > 0 {
		if c.cfg.ROBSize > 0 && len(c.rob) >= c.cfg.ROBSize {
			break
		}
		in := c.dispatchBuffer[0]
		c.dispatchBuffer = c.dispatchBuffer[1:]
		c.rob = append(c.rob, in)
		c.byID[in.InstrID] = in
		moved++
		progress = true
	}
	return progress
}

// ---- Decode ----

func (c *Core) decode(now uint64) bool {
	progress := false
	moved := 0
	for moved < c.cfg.DecodeWidth && len(c.decodeBuffer) > 0 {
		if c.cfg.DispatchBufferSize > 0 && len(c.dispatchBuffer) >= c.cfg.DispatchBufferSize {
			break
		}
		in := c.decodeBuffer[0]
		c.decodeBuffer = c.decodeBuffer[1:]
		in.Decoded = true

		if in.IsBranch && (in.BranchType == instr.DirectJump || in.BranchType == instr.DirectCall) {
			target, known := c.btb.Predict(in.IP, in.BranchType)
			c.btb.Update(in.IP, in.BranchTarget, in.BranchType, true)
			if !known || target != in.BranchTarget {
				in.BranchMispredicted = true
				c.stats.Mispredictions++
				c.stats.MispredictsByType[in.BranchType]++
				c.triggerMispredict(now, in)
				c.dispatchBuffer = append(c.dispatchBuffer, in)
				moved++
				progress = true
				continue
			}
		}

		c.dispatchBuffer = append(c.dispatchBuffer, in)
		moved++
		progress = true
	}
	return progress
}

// ---- Promote to decode ----

func (c *Core) promoteToDecode(now uint64) bool {
	progress := false
	var remaining []*instr.Instr
	for _, in := range c.fetchBuffer {
		ready := in.Translated && in.Fetched
		if ready && (c.cfg.DecodeBufferSize == 0 || len(c.decodeBuffer) < c.cfg.DecodeBufferSize) {
			c.decodeBuffer = append(c.decodeBuffer, in)
			progress = true
			continue
		}
		remaining = append(remaining, in)
	}
	c.fetchBuffer = remaining
	return progress
}

// ---- Fetch ----

func (c *Core) fetch(now uint64) bool {
	progress := false

	for _, in := range c.fetchBuffer {
		if c.issueFetchRequests(in) {
			progress = true
		}
	}

	if c.fetchStall {
		if now < c.fetchResumeCycle {
			return progress
		}
		c.fetchStall = false
	}

	fetched := 0
	for fetched < c.cfg.FetchWidth {
		if c.cfg.FetchBufferSize > 0 && len(c.fetchBuffer) >= c.cfg.FetchBufferSize {
			break
		}
		rec, id, err := c.trace.Next()
		if err != nil {
			break
		}
		in := instr.FromRecord(c.cfg.CPU, rec, id)
		in.Classify()
		c.fetchBuffer = append(c.fetchBuffer, &in)
		c.issueFetchRequests(&in)
		fetched++
		progress = true
	}

	return progress
}

// issueFetchRequests (re-)submits the ITLB translation and, once
// translated, the L1I read for in, matching spec.md §4.1's "after the
// ITLB accepts the request" gating.
func (c *Core) issueFetchRequests(in *instr.Instr) bool {
	if in.Decoded {
		return false
	}
	progress := false
	if !in.Translated {
		if !in.TranslationRequested && c.itlb != nil {
			req := request.Request{Address: in.IP, VAddress: in.IP, Type: request.Translation, CPU: c.cfg.CPU, InstrID: in.InstrID}
			if c.itlb.Channel.RQ.TryAdd(req) {
				in.TranslationRequested = true
				progress = true
			}
		}
		return progress
	}
	if !in.Fetched && !in.FetchRequested && c.l1i != nil {
		req := request.Request{
			Address: in.InstructionPA, VAddress: in.IP, Type: request.Load,
			CPU: c.cfg.CPU, InstrID: in.InstrID, Translated: true,
		}
		if c.l1i.Channel.RQ.TryAdd(req) {
			in.FetchRequested = true
			progress = true
		}
	}
	return progress
}

// ---- DIB ----

// dibStage checks newly fetched instructions against the decoded
// instruction buffer, matching src/ooo_cpu.cc's do_check_dib semantics:
// a hit marks the instruction translated and fetched, so it skips the
// ITLB/L1I round trip but still passes through decode; a miss records
// the instruction's window in the DIB.
func (c *Core) dibStage(now uint64) bool {
	progress := false
	for _, in := range c.fetchBuffer {
		if in.Translated || in.Decoded {
			continue
		}
		if c.dib.Check(in.IP) {
			in.Translated = true
			in.Fetched = true
			in.Decoded = false // still flows through decode to reach dispatch, just with no stall
			progress = true
		} else {
			c.dib.Update(in.IP)
		}
	}
	return progress
}
