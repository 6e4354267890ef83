package programs

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/collect"
	"github.com/procwatch/agent/internal/match"
	"github.com/procwatch/agent/internal/thresholds"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultSortKey = "cpu_percent_total"

// Record is a logical grouping of one or more processes sharing an inferred
// program identity, with summed resource totals and threshold-derived status.
type Record struct {
	Name               string            `json:"name"`
	Pids               []int32           `json:"pids"`
	PidsCount          int               `json:"pids_count"`
	CPUPercentTotal    float64           `json:"cpu_percent_total"`
	MemoryPercentTotal float64           `json:"memory_percent_total"`
	MemoryRSS          uint64            `json:"memory_rss"`
	MemoryVMS          uint64            `json:"memory_vms"`
	Threads            int32             `json:"threads"`
	Connections        int               `json:"connections"`
	IOReadBytes        uint64            `json:"io_read_bytes"`
	IOWriteBytes       uint64            `json:"io_write_bytes"`
	Processes          []collect.Record  `json:"processes"`
	Status             thresholds.Status `json:"status"`
	CPUStatus          thresholds.Status `json:"cpu_status"`
	MemStatus          thresholds.Status `json:"mem_status"`
	Pinned             bool              `json:"pinned"`
}

type sortSpec struct {
	descending bool
	less       func(a, b *Record) bool
}

var sortSpecs = map[string]sortSpec{
	"cpu_percent_total":    {true, func(a, b *Record) bool { return a.CPUPercentTotal < b.CPUPercentTotal }},
	"memory_percent_total": {true, func(a, b *Record) bool { return a.MemoryPercentTotal < b.MemoryPercentTotal }},
	"memory_rss":           {true, func(a, b *Record) bool { return a.MemoryRSS < b.MemoryRSS }},
	"threads":              {true, func(a, b *Record) bool { return a.Threads < b.Threads }},
	"pids_count":           {true, func(a, b *Record) bool { return a.PidsCount < b.PidsCount }},
	"memory_vms":           {false, func(a, b *Record) bool { return a.MemoryVMS < b.MemoryVMS }},
	"connections":          {false, func(a, b *Record) bool { return a.Connections < b.Connections }},
	"io_read_bytes":        {false, func(a, b *Record) bool { return a.IOReadBytes < b.IOReadBytes }},
	"io_write_bytes":       {false, func(a, b *Record) bool { return a.IOWriteBytes < b.IOWriteBytes }},
	"name":                 {false, func(a, b *Record) bool { return a.Name < b.Name }},
	"status":               {false, func(a, b *Record) bool { return a.Status < b.Status }},
}

// ValidSortKey reports whether a program sort key is recognized, so callers
// can reject bad configuration up front.
func ValidSortKey(sortKey string) bool {
	_, found := sortSpecs[sortKey]
	return found
}

func sortRecords(records []Record, sortKey string) {
	spec, found := sortSpecs[sortKey]
	if !found {
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		if spec.descending {
			return spec.less(&records[j], &records[i])
		}
		return spec.less(&records[i], &records[j])
	})
}

var filterAccessors = map[string]func(r *Record) string{
	"name":   func(r *Record) string { return r.Name },
	"status": func(r *Record) string { return string(r.Status) },
}

// Aggregator groups the latest process snapshot into programs and caches the
// resulting table until the next snapshot arrives. The table is rebuilt from
// scratch on every update, never patched while visible to readers.
type Aggregator struct {
	logger   *zap.Logger
	registry *thresholds.Registry

	lock  sync.RWMutex
	table map[string]*Record
	order []string // program names in first-seen order

	lastUpdate *atomic.Int64 // unix nano, 0 means never updated
}

func NewAggregator(rootLogger *zap.Logger, registry *thresholds.Registry) *Aggregator {
	return &Aggregator{
		logger:     rootLogger.Named("program-aggregator"),
		registry:   registry,
		table:      make(map[string]*Record),
		lastUpdate: atomic.NewInt64(0),
	}
}

// Update rebuilds the program table from a process snapshot. A failure while
// folding processes in resets the table to empty for this cycle instead of
// leaving a half-built or stale one; it never reaches the caller.
func (a *Aggregator) Update(processes []collect.Record) {
	table, order := a.aggregate(processes)

	a.lock.Lock()
	a.table = table
	a.order = order
	a.lock.Unlock()

	a.lastUpdate.Store(time.Now().UnixNano())
}

func (a *Aggregator) aggregate(processes []collect.Record) (table map[string]*Record, order []string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.logger.Error("Aggregation failed, resetting program table",
				zap.Any("Panic", recovered), zap.Int("ProcessCount", len(processes)))
			table = make(map[string]*Record)
			order = nil
		}
	}()

	table = make(map[string]*Record)

	for i := range processes {
		process := processes[i]
		programName := InferName(process.Cmdline, process.Name)

		program, found := table[programName]
		if !found {
			program = &Record{
				Name:      programName,
				Status:    thresholds.StatusOk,
				CPUStatus: thresholds.StatusOk,
				MemStatus: thresholds.StatusOk,
			}
			table[programName] = program
			order = append(order, programName)
		}

		program.Pids = append(program.Pids, process.Pid)
		program.PidsCount++
		program.CPUPercentTotal += process.CPUPercent
		program.MemoryPercentTotal += process.MemoryPercent
		program.MemoryRSS += process.MemoryRSS
		program.MemoryVMS += process.MemoryVMS
		if process.NumThreads > 0 {
			program.Threads += process.NumThreads
		} else {
			program.Threads++
		}
		program.Connections += process.NumConnections
		if process.IOCounters != nil {
			program.IOReadBytes += process.IOCounters.ReadBytes
			program.IOWriteBytes += process.IOCounters.WriteBytes
		}
		program.Processes = append(program.Processes, process)
	}

	for _, programName := range order {
		program := table[programName]

		program.CPUStatus = a.registry.Classify("program_cpu", program.CPUPercentTotal)
		program.MemStatus = a.registry.Classify("program_mem", program.MemoryPercentTotal)
		program.Status = program.CPUStatus.Worse(program.MemStatus)

		sort.SliceStable(program.Processes, func(i, j int) bool {
			return program.Processes[i].CPUPercent > program.Processes[j].CPUPercent
		})
	}

	return table, order
}

// QueryOptions are per-call overrides for Programs; the cached table is never
// mutated by a read.
type QueryOptions struct {
	SortKey       string
	FilterPattern string
	FilterKey     string
	PinnedNames   []string
}

// Programs returns an independent, ordered sequence of program records
// derived from the cached table. Pinned programs precede unpinned ones,
// each partition keeping its internal sort order.
func (a *Aggregator) Programs(opts QueryOptions) ([]Record, error) {
	sortKey := opts.SortKey
	if sortKey == "" {
		sortKey = DefaultSortKey
	}
	if !ValidSortKey(sortKey) {
		return nil, errors.Errorf("unknown program sort key '%s'", sortKey)
	}

	var filterAccessor func(r *Record) string
	if opts.FilterPattern != "" {
		filterKey := opts.FilterKey
		if filterKey == "" {
			filterKey = "name"
		}
		accessor, found := filterAccessors[filterKey]
		if !found {
			return nil, errors.Errorf("unknown program filter key '%s'", filterKey)
		}
		filterAccessor = accessor
	}

	a.lock.RLock()
	records := make([]Record, 0, len(a.order))
	for _, programName := range a.order {
		records = append(records, *a.table[programName])
	}
	a.lock.RUnlock()

	pinnedNames := make(map[string]struct{}, len(opts.PinnedNames))
	for _, name := range opts.PinnedNames {
		pinnedNames[name] = struct{}{}
	}

	if len(pinnedNames) > 0 {
		for i := range records {
			if _, found := pinnedNames[records[i].Name]; found {
				records[i].Pinned = true
			}
		}
	}

	if filterAccessor != nil {
		filtered := records[:0]
		for i := range records {
			if match.Matches(opts.FilterPattern, filterAccessor(&records[i])) {
				filtered = append(filtered, records[i])
			}
		}
		records = filtered
	}

	sortRecords(records, sortKey)

	if len(pinnedNames) > 0 {
		pinned := make([]Record, 0, len(pinnedNames))
		unpinned := make([]Record, 0, len(records))
		for i := range records {
			if records[i].Pinned {
				pinned = append(pinned, records[i])
			} else {
				unpinned = append(unpinned, records[i])
			}
		}
		records = append(pinned, unpinned...)
	}

	return records, nil
}

// TopPrograms returns the first n programs after sorting by the given key.
func (a *Aggregator) TopPrograms(n int, sortKey string) ([]Record, error) {
	records, err := a.Programs(QueryOptions{SortKey: sortKey})
	if err != nil {
		return nil, err
	}
	if n >= 0 && n < len(records) {
		records = records[:n]
	}
	return records, nil
}

// ProgramByName returns the cached record for a program, without triggering
// recomputation.
func (a *Aggregator) ProgramByName(name string) (Record, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	program, found := a.table[name]
	if !found {
		return Record{}, false
	}
	return *program, true
}

// LastUpdate returns the time the table was last rebuilt, or the zero time
// if it never was.
func (a *Aggregator) LastUpdate() time.Time {
	nanos := a.lastUpdate.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
