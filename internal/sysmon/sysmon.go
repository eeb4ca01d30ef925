// Package sysmon reports resource usage of the host process and the
// interpreter processes it runs. Capture channels hold descriptors for the
// life of the process, so the descriptor count is the number to watch.
package sysmon

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo represents a process with metrics
type ProcessInfo struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	Cmdline    string    `json:"cmdline,omitempty"`
	NumFDs     int32     `json:"num_fds"`
	NumThreads int32     `json:"num_threads"`
	MemoryMB   float64   `json:"memory_mb"` // RSS in MB
	CPUPercent float64   `json:"cpu_percent"`
	CreateTime time.Time `json:"create_time"`
	Status     string    `json:"status,omitempty"`
}

// Report is the host process plus its live children.
type Report struct {
	Self     *ProcessInfo   `json:"self"`
	Children []*ProcessInfo `json:"children,omitempty"`
}

// fetchProcessInfo retrieves the metrics of a single process. Fields that
// cannot be read (short-lived or foreign processes) stay zero.
func fetchProcessInfo(p *process.Process) *ProcessInfo {
	info := &ProcessInfo{
		PID: p.Pid,
	}

	if name, err := p.Name(); err == nil {
		info.Name = name
	}

	if cmdline, err := p.Cmdline(); err == nil {
		info.Cmdline = cmdline
	}

	if numFDs, err := p.NumFDs(); err == nil {
		info.NumFDs = numFDs
	}

	if numThreads, err := p.NumThreads(); err == nil {
		info.NumThreads = numThreads
	}

	if memInfo, err := p.MemoryInfo(); err == nil {
		info.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}

	if cpuPercent, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpuPercent
	}

	if createTime, err := p.CreateTime(); err == nil {
		info.CreateTime = time.Unix(0, createTime*int64(time.Millisecond))
	}

	if status, err := p.Status(); err == nil && len(status) > 0 {
		info.Status = status[0]
	}

	return info
}

// Inspect returns metrics for pid.
func Inspect(pid int32) (*ProcessInfo, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("process not found: %w", err)
	}
	return fetchProcessInfo(p), nil
}

// Collect reports on the current process and its children.
func Collect() (*Report, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect own process: %w", err)
	}

	report := &Report{Self: fetchProcessInfo(p)}

	// Children fails with ErrorNoChildren when there are none.
	if children, err := p.Children(); err == nil {
		for _, child := range children {
			report.Children = append(report.Children, fetchProcessInfo(child))
		}
	}
	return report, nil
}
