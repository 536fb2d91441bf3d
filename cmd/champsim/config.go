package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/champsim/cache"
	"github.com/sarchlab/champsim/core"
	"github.com/sarchlab/champsim/dram"
	"github.com/sarchlab/champsim/ptw"
	"github.com/sarchlab/champsim/sim"
)

// yamlConfig is the on-disk shape of a champsim run, grounded on
// zeonica/core/program.go's yaml.Unmarshal(data, &root) pattern: plain
// exported structs with `yaml:` tags, one Load function, no builder
// chain. It carries only what a run needs to name. Zero cache fields
// are filled in by cache.Config.Resolve, and zero walker MSHR/bandwidth
// fields by ptw.New; core and DRAM fields (and DeadlockCycles) are used
// exactly as given, with no defaults.
type yamlConfig struct {
	Log2BlockSize uint `yaml:"log2_block_size"`
	Log2PageSize  uint `yaml:"log2_page_size"`

	WarmupInstructions uint64 `yaml:"warmup_instructions"`
	SimInstructions    uint64 `yaml:"sim_instructions"`
	DeadlockCycles     uint64 `yaml:"deadlock_cycles"`

	CPUs []yamlCPU `yaml:"cpus"`
	LLC  yamlCache `yaml:"llc"`
	DRAM yamlDRAM  `yaml:"dram"`
}

type yamlCPU struct {
	Trace string `yaml:"trace"`

	FetchWidth    int `yaml:"fetch_width"`
	DecodeWidth   int `yaml:"decode_width"`
	DispatchWidth int `yaml:"dispatch_width"`
	ScheduleWidth int `yaml:"schedule_width"`
	ExecWidth     int `yaml:"exec_width"`
	LQWidth       int `yaml:"lq_width"`
	SQWidth       int `yaml:"sq_width"`
	RetireWidth   int `yaml:"retire_width"`

	FetchBufferSize    int `yaml:"fetch_buffer_size"`
	DecodeBufferSize   int `yaml:"decode_buffer_size"`
	DispatchBufferSize int `yaml:"dispatch_buffer_size"`
	ROBSize            int `yaml:"rob_size"`
	LQSize             int `yaml:"lq_size"`
	SQSize             int `yaml:"sq_size"`

	ExecLatency       uint64 `yaml:"exec_latency"`
	MispredictPenalty uint64 `yaml:"mispredict_penalty"`

	DIBSets       int  `yaml:"dib_sets"`
	DIBWays       int  `yaml:"dib_ways"`
	DIBLog2Window uint `yaml:"dib_log2_window"`

	ITLB yamlPTW   `yaml:"itlb"`
	DTLB yamlPTW   `yaml:"dtlb"`
	L1I  yamlCache `yaml:"l1i"`
	L1D  yamlCache `yaml:"l1d"`
	L2   yamlCache `yaml:"l2"`
}

type yamlCache struct {
	Sets int `yaml:"sets"`
	Ways int `yaml:"ways"`
	Size int `yaml:"size"`

	HitLatency  int `yaml:"hit_latency"`
	FillLatency int `yaml:"fill_latency"`
	MSHRSize    int `yaml:"mshr_size"`
	MaxTag      int `yaml:"max_tag"`
	MaxFill     int `yaml:"max_fill"`

	RQSize       int `yaml:"rq_size"`
	WQSize       int `yaml:"wq_size"`
	PQSize       int `yaml:"pq_size"`
	ResponseSize int `yaml:"response_size"`

	VirtualPrefetch bool `yaml:"virtual_prefetch"`
	PrefetchAsLoad  bool `yaml:"prefetch_as_load"`
	WriteAllocate   bool `yaml:"write_allocate"`
}

func (y yamlCache) resolve(name string, warmup func() bool) cache.Config {
	cfg := cache.Config{
		Name: name, Size: y.Size, Sets: y.Sets, Ways: y.Ways,
		HitLatency: y.HitLatency, FillLatency: y.FillLatency, MSHRSize: y.MSHRSize,
		MaxTag: y.MaxTag, MaxFill: y.MaxFill,
		RQSize: y.RQSize, WQSize: y.WQSize, PQSize: y.PQSize, ResponseSize: y.ResponseSize,
		VirtualPrefetch: y.VirtualPrefetch, PrefetchAsLoad: y.PrefetchAsLoad,
		WriteAllocate: y.WriteAllocate, Warmup: warmup,
	}
	cfg.Resolve()
	return cfg
}

type yamlPTW struct {
	Levels     int        `yaml:"levels"`
	MSHRSize   int        `yaml:"mshr_size"`
	MaxRead    int        `yaml:"max_read"`
	MaxFill    int        `yaml:"max_fill"`
	HitLatency int        `yaml:"hit_latency"`
	CR3        uint64     `yaml:"cr3"`
	PSCL       []yamlPSCL `yaml:"pscl"`
}

type yamlPSCL struct {
	Level int `yaml:"level"`
	Sets  int `yaml:"sets"`
	Ways  int `yaml:"ways"`
}

func (y yamlPTW) resolve(name string, log2BlockSize, log2PageSize uint, warmup func() bool) ptw.Config {
	levels := y.Levels
	if levels == 0 {
		levels = 5
	}
	pscl := make([]ptw.PSCLLevel, len(y.PSCL))
	for i, p := range y.PSCL {
		pscl[i] = ptw.PSCLLevel{Level: p.Level, Sets: p.Sets, Ways: p.Ways}
	}
	return ptw.Config{
		Name: name, Levels: levels, Log2PageSize: log2PageSize, Log2BlockSize: log2BlockSize,
		MSHRSize: y.MSHRSize, MaxRead: y.MaxRead, MaxFill: y.MaxFill,
		HitLatency: y.HitLatency, PSCL: pscl, CR3: y.CR3, Warmup: warmup,
	}
}

type yamlDRAM struct {
	Ranks   int `yaml:"ranks"`
	Banks   int `yaml:"banks"`
	Rows    int `yaml:"rows"`
	Columns int `yaml:"columns"`

	ChannelWidth int `yaml:"channel_width"`

	RQSize int `yaml:"rq_size"`
	WQSize int `yaml:"wq_size"`

	TRP            int `yaml:"trp"`
	TRCD           int `yaml:"trcd"`
	TCAS           int `yaml:"tcas"`
	RefreshPeriod  int `yaml:"refresh_period"`
	RowsPerRefresh int `yaml:"rows_per_refresh"`
	Turnaround     int `yaml:"turnaround"`
}

func (y yamlDRAM) resolve(log2BlockSize uint, warmup func() bool) dram.Config {
	return dram.Config{
		Name: "DRAM", Ranks: y.Ranks, Banks: y.Banks, Rows: y.Rows, Columns: y.Columns,
		ChannelWidth: y.ChannelWidth, BlockSize: 1 << log2BlockSize,
		RQSize: y.RQSize, WQSize: y.WQSize,
		TRP: y.TRP, TRCD: y.TRCD, TCAS: y.TCAS,
		RefreshPeriod: y.RefreshPeriod, RowsPerRefresh: y.RowsPerRefresh,
		Turnaround: y.Turnaround, Warmup: warmup,
	}
}

// loadConfig reads and unmarshals a YAML run description from path.
func loadConfig(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var root yamlConfig
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &root, nil
}

// toSimConfig builds the sim.Config this run actually executes, binding
// every cache/walker to whatever warmup closure the caller
// hands in (so cfg.Warmup() is always "is the simulation, right now, in
// its warmup phase", not a value frozen at load time).
func (y *yamlConfig) toSimConfig(warmup func() bool) sim.Config {
	cfg := sim.Config{
		NumCPUs:            len(y.CPUs),
		Log2BlockSize:      y.Log2BlockSize,
		Log2PageSize:       y.Log2PageSize,
		WarmupInstructions: y.WarmupInstructions,
		SimInstructions:    y.SimInstructions,
		DeadlockCycles:     y.DeadlockCycles,
		LLC:                y.LLC.resolve("LLC", warmup),
		DRAM:               y.DRAM.resolve(y.Log2BlockSize, warmup),
	}

	for _, c := range y.CPUs {
		cc := sim.CPUConfig{
			TracePath: c.Trace,
			Core: core.Config{
				FetchWidth: c.FetchWidth, DecodeWidth: c.DecodeWidth,
				DispatchWidth: c.DispatchWidth, ScheduleWidth: c.ScheduleWidth,
				ExecWidth: c.ExecWidth, LQWidth: c.LQWidth, SQWidth: c.SQWidth,
				RetireWidth: c.RetireWidth,
				FetchBufferSize: c.FetchBufferSize, DecodeBufferSize: c.DecodeBufferSize,
				DispatchBufferSize: c.DispatchBufferSize, ROBSize: c.ROBSize,
				LQSize: c.LQSize, SQSize: c.SQSize,
				ExecLatency: c.ExecLatency, MispredictPenalty: c.MispredictPenalty,
				DIBSets: c.DIBSets, DIBWays: c.DIBWays, DIBLog2Window: c.DIBLog2Window,
			},
			ITLB:     c.ITLB.resolve("ITLB", y.Log2BlockSize, y.Log2PageSize, warmup),
			DTLB:     c.DTLB.resolve("DTLB", y.Log2BlockSize, y.Log2PageSize, warmup),
			L1ICache: c.L1I.resolve("L1I", warmup),
			L1DCache: c.L1D.resolve("L1D", warmup),
			L2Cache:  c.L2.resolve("L2", warmup),
		}
		cfg.CPUs = append(cfg.CPUs, cc)
	}

	return cfg
}
