package httpserver

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a resource snapshot of one OS process.
type ProcessStats struct {
	PID        int       `json:"pid"`
	RSSBytes   uint64    `json:"rssBytes"`
	CPUPercent float64   `json:"cpuPercent"`
	StartedAt  time.Time `json:"startedAt"`
	Cmdline    string    `json:"cmdline,omitempty"`
}

func selfPID() int { return os.Getpid() }

func processStats(pid int) (*ProcessStats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}

	ps := &ProcessStats{PID: pid, RSSBytes: mem.RSS}
	if cpu, err := p.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if ms, err := p.CreateTime(); err == nil {
		ps.StartedAt = time.UnixMilli(ms)
	}
	if cmd, err := p.Cmdline(); err == nil {
		ps.Cmdline = cmd
	}
	return ps, nil
}
