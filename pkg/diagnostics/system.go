package diagnostics

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HeapAllocMB reports the bytes of allocated heap objects in megabytes.
func HeapAllocMB() Diagnostic {
	return New("heap_alloc_mb", Func(func() float64 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return float64(m.HeapAlloc) / 1e6
	}))
}

// Goroutines reports the number of live goroutines.
func Goroutines() Diagnostic {
	return New("goroutines", Func(func() float64 {
		return float64(runtime.NumGoroutine())
	}))
}

// CPUPercent reports host-wide CPU utilisation since the previous call.
func CPUPercent() Diagnostic {
	return New("cpu_percent", ContextFunc(func(ctx context.Context) (float64, error) {
		// Zero interval compares against the previous call instead of sleeping
		pcts, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return 0, err
		}
		if len(pcts) == 0 {
			return 0, nil
		}
		return pcts[0], nil
	}))
}

// VirtualMemoryPercent reports host memory usage as a percentage.
func VirtualMemoryPercent() Diagnostic {
	return New("virtual_memory_percent", ContextFunc(func(ctx context.Context) (float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}))
}

// ProcessMemoryGB reports the resident set size of this process in GiB.
func ProcessMemoryGB() Diagnostic {
	var (
		once sync.Once
		proc *process.Process
		perr error
	)
	return New("memory_use", ContextFunc(func(ctx context.Context) (float64, error) {
		once.Do(func() {
			proc, perr = process.NewProcess(int32(os.Getpid()))
		})
		if perr != nil {
			return 0, perr
		}
		info, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return float64(info.RSS) / (1 << 30), nil
	}))
}

// System returns the runtime and host producers in a fixed order.
func System() []Diagnostic {
	return []Diagnostic{
		HeapAllocMB(),
		Goroutines(),
		CPUPercent(),
		VirtualMemoryPercent(),
		ProcessMemoryGB(),
	}
}
