package observe

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// MemorySampler reports the process resident set as a percentage of total
// host memory. Used by the gateway's debug memory sampling; only available on
// hosts with procfs.
type MemorySampler struct {
	fs         procfs.FS
	totalBytes uint64
}

// NewMemorySampler reads the host memory total once and keeps a procfs handle
// for per-sample RSS reads. Fails where procfs is unavailable; callers should
// treat that as sampling disabled, not as a startup error.
func NewMemorySampler() (*MemorySampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("observe: memory sampler: %w", err)
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return nil, fmt.Errorf("observe: memory sampler: read meminfo: %w", err)
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return nil, fmt.Errorf("observe: memory sampler: meminfo reports no total")
	}
	return &MemorySampler{fs: fs, totalBytes: *mi.MemTotal * 1024}, nil
}

// Percent returns the current process RSS as a percentage of host memory.
// ok is false when the sample could not be taken.
func (s *MemorySampler) Percent() (float64, bool) {
	proc, err := s.fs.Self()
	if err != nil {
		return 0, false
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, false
	}
	rss := uint64(stat.ResidentMemory())
	return float64(rss) / float64(s.totalBytes) * 100, true
}
