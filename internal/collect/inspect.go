package collect

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/types"
	"github.com/shirou/gopsutil/host"
	psUtil "github.com/shirou/gopsutil/process"
)

// The OS inspection capability is reached through package-level function
// variables so tests can substitute synthetic process tables.
var (
	listProcesses = psUtil.Processes
	readProcess   = readProcessStats
	systemNow     = systemNowEpoch
	ownPid        = os.Getpid
)

// systemNowEpoch derives the current epoch second from boot time plus system
// uptime, matching the clock process create times are measured against.
func systemNowEpoch() (int64, bool) {
	bootTime, err := host.BootTime()
	if err != nil {
		return 0, false
	}
	uptime, err := host.Uptime()
	if err != nil {
		return 0, false
	}
	return int64(bootTime + uptime), true
}

// readProcessStats reads the full metric set for one process. Any failed read
// means the process exited, turned zombie or denies access mid-scan; the
// caller skips it.
func readProcessStats(proc *psUtil.Process, nowEpoch int64) (Record, error) {
	var record Record
	record.Pid = proc.Pid

	name, err := proc.Name()
	if err != nil {
		return record, errors.WithMessagef(err, "get name for pid '%d'", proc.Pid)
	}
	record.Name = name

	cmdline, err := proc.CmdlineSlice()
	if err != nil {
		return record, errors.WithMessagef(err, "get command line for pid '%d'", proc.Pid)
	}
	record.Cmdline = cmdline

	status, err := proc.Status()
	if err != nil {
		return record, errors.WithMessagef(err, "get status for pid '%d'", proc.Pid)
	}
	record.Status = status

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return record, errors.WithMessagef(err, "get cpu percent for pid '%d'", proc.Pid)
	}
	record.CPUPercent = cpuPercent

	memoryPercent, err := proc.MemoryPercent()
	if err != nil {
		return record, errors.WithMessagef(err, "get memory percent for pid '%d'", proc.Pid)
	}
	record.MemoryPercent = float64(memoryPercent)

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		return record, errors.WithMessagef(err, "get memory info for pid '%d'", proc.Pid)
	}
	record.MemoryRSS = memoryInfo.RSS
	record.MemoryVMS = memoryInfo.VMS

	numThreads, err := proc.NumThreads()
	if err != nil {
		return record, errors.WithMessagef(err, "get thread count for pid '%d'", proc.Pid)
	}
	record.NumThreads = numThreads

	// Connection and IO counter reads commonly fail on restricted
	// processes; treat them as absent rather than skipping the process.
	if connections, err := proc.Connections(); err == nil {
		record.NumConnections = len(connections)
	}
	if ioCounters, err := proc.IOCounters(); err == nil && ioCounters != nil {
		record.IOCounters = &IOCounters{
			ReadCount:  ioCounters.ReadCount,
			WriteCount: ioCounters.WriteCount,
			ReadBytes:  ioCounters.ReadBytes,
			WriteBytes: ioCounters.WriteBytes,
		}
	}

	createTimeMilliseconds, err := proc.CreateTime()
	if err != nil {
		return record, errors.WithMessagef(err, "get create time for pid '%d'", proc.Pid)
	}
	record.CreateTime = types.TimeFromMillisecondTimestamp(createTimeMilliseconds)

	if nowEpoch > 0 {
		uptimeSeconds := nowEpoch - createTimeMilliseconds/1000
		if uptimeSeconds > 0 {
			record.Uptime = time.Duration(uptimeSeconds) * time.Second
		}
	}

	return record, nil
}
