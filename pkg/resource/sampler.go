package resource

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/forgerun/forge/pkg/ids"
)

// ProcessSampler samples real host/process metrics via gopsutil. Each
// owner is mapped to an OS process id through Bind; an owner with no
// binding is sampled as the current process.
type ProcessSampler struct {
	mu        sync.RWMutex
	pids      map[ids.OwnerID]int32
	diskPath  string
}

// NewProcessSampler creates a sampler that reports disk usage for diskPath
// (typically the runtime's data directory).
func NewProcessSampler(diskPath string) *ProcessSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &ProcessSampler{pids: make(map[ids.OwnerID]int32), diskPath: diskPath}
}

// Bind associates an owner with the OS pid that does its work, so Sample
// can read gopsutil process metrics for it.
func (s *ProcessSampler) Bind(owner ids.OwnerID, pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pids[owner] = pid
}

// Unbind removes the owner-to-pid mapping.
func (s *ProcessSampler) Unbind(owner ids.OwnerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pids, owner)
}

// Sample implements Sampler. For the system owner it reports host-wide
// CPU and disk usage; for bound owners it reports per-process metrics.
func (s *ProcessSampler) Sample(owner ids.OwnerID) (map[Axis]float64, error) {
	if owner.Kind == ids.OwnerKindSystem {
		return s.sampleSystem()
	}

	s.mu.RLock()
	pid, ok := s.pids[owner]
	s.mu.RUnlock()
	if !ok {
		pid = int32(os.Getpid())
	}
	return s.sampleProcess(pid)
}

func (s *ProcessSampler) sampleSystem() (map[Axis]float64, error) {
	out := make(map[Axis]float64)
	pct, err := cpu.Percent(0, false)
	if err == nil && len(pct) > 0 {
		out[AxisCPU] = pct[0]
	}
	usage, err := disk.Usage(s.diskPath)
	if err == nil {
		out[AxisDisk] = float64(usage.Used) / (1024 * 1024)
	}
	return out, nil
}

func (s *ProcessSampler) sampleProcess(pid int32) (map[Axis]float64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("resolving process %d: %w", pid, err)
	}

	out := make(map[Axis]float64)
	if pct, err := proc.CPUPercent(); err == nil {
		out[AxisCPU] = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		out[AxisMemory] = float64(mem.RSS) / (1024 * 1024)
	}
	if threads, err := proc.NumThreads(); err == nil {
		out[AxisThreads] = float64(threads)
	}
	if fds, err := proc.NumFDs(); err == nil {
		out[AxisFileHandles] = float64(fds)
	}
	if conns, err := proc.ConnectionsWithContext(context.Background()); err == nil {
		out[AxisConnections] = float64(len(conns))
	}
	return out, nil
}
