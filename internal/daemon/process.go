package daemon

import (
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes the daemon process as seen by the OS. Zero value
// with Running=false means the daemon could not be found.
type ProcessInfo struct {
	Running    bool      `json:"running"`
	PID        int32     `json:"pid,omitempty"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	RSSBytes   uint64    `json:"rss_bytes,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// FindDaemonProcess scans the process table for the daemon binary by name.
// Matching is by executable basename first, then by command line, so both
// a bare binary and an interpreter-wrapped daemon are found. Any per-field
// read failure degrades to a zero field rather than an error; processes
// come and go while we scan.
func FindDaemonProcess(name string) ProcessInfo {
	if name == "" {
		return ProcessInfo{}
	}

	procs, err := process.Processes()
	if err != nil {
		return ProcessInfo{}
	}

	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue
		}
		if pname != name {
			cmdline, err := p.Cmdline()
			if err != nil || !strings.Contains(cmdline, name) {
				continue
			}
		}

		info := ProcessInfo{Running: true, PID: p.Pid}
		if cpu, err := p.CPUPercent(); err == nil {
			info.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			info.RSSBytes = mem.RSS
		}
		if created, err := p.CreateTime(); err == nil {
			info.StartedAt = time.UnixMilli(created)
		}
		return info
	}

	return ProcessInfo{}
}
