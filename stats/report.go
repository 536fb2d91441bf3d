package stats

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
)

// NamedCacheDelta pairs a cache's name with its windowed statistics, for
// ordered rendering in a Report.
type NamedCacheDelta struct {
	Name  string
	Delta CacheDelta
}

// NamedPTWDelta pairs a walker's name with its windowed statistics.
type NamedPTWDelta struct {
	Name  string
	Delta PTWDelta
}

// Report bundles one phase's (warmup or ROI) full set of statistics
// across every CPU, cache, and walker, for printing at the end of a run.
// Grounded on the original's per-phase console dump (core_stats.cc /
// cache_stats.cc aggregated by main.cc), rendered with go-pretty/table
// rather than hand-rolled column alignment.
type Report struct {
	Phase  string
	Cores  []CoreDelta
	Caches []NamedCacheDelta
	DRAM   []DRAMDelta
	PTWs   []NamedPTWDelta
}

// WriteTo renders the report as a set of go-pretty tables to w.
func (r Report) WriteTo(w io.Writer) {
	fmt.Fprintf(w, "=== %s ===\n", r.Phase)

	cpuTable := table.NewWriter()
	cpuTable.SetOutputMirror(w)
	cpuTable.AppendHeader(table.Row{"CPU", "Instructions", "Cycles", "IPC", "Mispredicts", "MPKI"})
	for i, d := range r.Cores {
		cpuTable.AppendRow(table.Row{i, d.Retired, d.Cycles, fmt.Sprintf("%.4f", d.IPC()), d.Mispredictions, fmt.Sprintf("%.3f", d.MPKI())})
	}
	cpuTable.Render()

	cacheTable := table.NewWriter()
	cacheTable.SetOutputMirror(w)
	cacheTable.AppendHeader(table.Row{"Cache", "Accesses", "Hit Rate", "MSHR Merges", "PF Useful", "PF Useless"})
	names := make([]string, 0, len(r.Caches))
	byName := make(map[string]CacheDelta, len(r.Caches))
	for _, nd := range r.Caches {
		names = append(names, nd.Name)
		byName[nd.Name] = nd.Delta
	}
	sort.Strings(names)
	for _, name := range names {
		d := byName[name]
		cacheTable.AppendRow(table.Row{name, d.Accesses, fmt.Sprintf("%.4f", d.HitRate()), d.MSHRMerges, d.PFUseful, d.PFUseless})
	}
	cacheTable.Render()

	if len(r.DRAM) > 0 {
		dramTable := table.NewWriter()
		dramTable.SetOutputMirror(w)
		dramTable.AppendHeader(table.Row{"Channel", "RQ Row Hit Rate", "WQ Full", "Congested Cycles"})
		for i, d := range r.DRAM {
			dramTable.AppendRow(table.Row{i, fmt.Sprintf("%.4f", d.RowBufferHitRate()), d.WQFull, d.CongestedCycles})
		}
		dramTable.Render()
	}

	if len(r.PTWs) > 0 {
		ptwTable := table.NewWriter()
		ptwTable.SetOutputMirror(w)
		ptwTable.AppendHeader(table.Row{"Walker", "Translations", "PSCL Misses", "MSHR Merges"})
		for _, nd := range r.PTWs {
			ptwTable.AppendRow(table.Row{nd.Name, nd.Delta.Translations, nd.Delta.PSCLMisses, nd.Delta.MSHRMerges})
		}
		ptwTable.Render()
	}
}
