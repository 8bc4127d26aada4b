package stats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

type SystemInfo struct {
	OS           string
	Hostname     string
	SystemUptime time.Duration

	CPUCores int
	CPUUsage float64

	MemUsed      uint64
	MemTotal     uint64
	MemPercent   float64
	MemAvailable uint64

	DiskUsed    uint64
	DiskTotal   uint64
	DiskPercent float64
	DiskFree    uint64

	NetSent uint64
	NetRecv uint64

	ProcessPID    int
	ProcessUptime time.Duration
	ProcessCPU    float64
	ProcessMem    uint64

	GoVersion  string
	Goroutines int
	HeapAlloc  uint64
	GCRuns     uint32
}

// Host samples machine and process metrics. Network counters are relative to
// the moment the Host was created.
type Host struct {
	start    time.Time
	diskPath string
	netSent  uint64
	netRecv  uint64
}

func NewHost(diskPath string) *Host {
	if diskPath == "" {
		diskPath = "/"
	}
	h := &Host{start: time.Now(), diskPath: diskPath}
	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		h.netSent = counters[0].BytesSent
		h.netRecv = counters[0].BytesRecv
	}
	return h
}

// Info collects what is available; a metric that cannot be read stays zero.
func (h *Host) Info(ctx context.Context) *SystemInfo {
	info := &SystemInfo{}

	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		info.OS = hostInfo.OS
		info.Hostname = hostInfo.Hostname
		info.SystemUptime = time.Duration(hostInfo.Uptime) * time.Second
	}

	if pct, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(pct) > 0 {
		info.CPUUsage = pct[0]
	}
	info.CPUCores = runtime.NumCPU()

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemUsed = vm.Used
		info.MemTotal = vm.Total
		info.MemPercent = vm.UsedPercent
		info.MemAvailable = vm.Available
	}

	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		info.DiskUsed = du.Used
		info.DiskTotal = du.Total
		info.DiskPercent = du.UsedPercent
		info.DiskFree = du.Free
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		info.NetSent = counters[0].BytesSent - h.netSent
		info.NetRecv = counters[0].BytesRecv - h.netRecv
	}

	info.ProcessPID = os.Getpid()
	if proc, err := process.NewProcessWithContext(ctx, int32(info.ProcessPID)); err == nil {
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			info.ProcessCPU = pct
		}
		if rss, err := proc.MemoryInfoWithContext(ctx); err == nil {
			info.ProcessMem = rss.RSS
		}
	}
	info.ProcessUptime = time.Since(h.start)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	info.GoVersion = runtime.Version()
	info.Goroutines = runtime.NumGoroutine()
	info.HeapAlloc = m.Alloc
	info.GCRuns = m.NumGC

	return info
}
