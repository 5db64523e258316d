// Package procinit applies process-wide runtime settings once at startup.
//
// Init is not reentrant and not reversible: the first call wins, later
// calls are ignored, and nothing restores the previous values.
package procinit

import (
	"log"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// DefaultMaxStack raises the per-goroutine stack ceiling above the runtime
// default so deep model graphs never hit it: 4 GiB on 64-bit platforms,
// 1 GiB where int is 32 bits.
const DefaultMaxStack = 4 << (28 + 2*(^uint(0)>>63))

// Options selects the overrides. Zero values keep the runtime defaults.
type Options struct {
	MaxStackBytes int
	Procs         int
}

// Info describes the host and the settings that were applied.
type Info struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	Procs         int
	MaxStackBytes int
	PrevMaxStack  int
}

var (
	once    sync.Once
	applied Info
)

// Init applies opts the first time it is called and returns the result.
func Init(opts Options) Info {
	once.Do(func() {
		applied = Info{
			Brand:         cpuid.CPU.BrandName,
			PhysicalCores: cpuid.CPU.PhysicalCores,
			LogicalCores:  cpuid.CPU.LogicalCores,
		}
		if opts.MaxStackBytes > 0 {
			applied.PrevMaxStack = debug.SetMaxStack(opts.MaxStackBytes)
			applied.MaxStackBytes = opts.MaxStackBytes
		}
		if opts.Procs > 0 {
			runtime.GOMAXPROCS(opts.Procs)
		}
		applied.Procs = runtime.GOMAXPROCS(0)
		log.Printf("cpu=%q physical_cores=%d logical_cores=%d gomaxprocs=%d max_stack=%d",
			applied.Brand, applied.PhysicalCores, applied.LogicalCores, applied.Procs, applied.MaxStackBytes)
	})
	return applied
}

// DefaultWorkers picks a data-loader worker count from the detected CPU.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
