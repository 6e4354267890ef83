package collect

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultSortKey = "cpu_percent"

// Processes whose name matches this list never enter a snapshot, so the
// monitoring agent doesn't report itself or its inspection helpers.
var defaultHiddenNames = []string{"procwatch", "gopsutil"}

// SnapshotSink receives every freshly built process snapshot, before it
// becomes visible to queries. The program aggregator implements it.
type SnapshotSink interface {
	Update(processes []Record)
}

// Collector owns the authoritative process snapshot. The snapshot is rebuilt
// wholesale on every update cycle and guarded by a lock; queries operate on
// defensive copies so concurrent rendering never observes a half-built list.
type Collector struct {
	logger *zap.Logger
	sink   SnapshotSink

	lock          sync.RWMutex
	processes     []Record
	sortKey       string
	filterPattern string
	filterKey     string
	hiddenNames   map[string]struct{}

	processCount *atomic.Int64
}

func NewCollector(rootLogger *zap.Logger, sink SnapshotSink) *Collector {
	hiddenNames := make(map[string]struct{}, len(defaultHiddenNames))
	for _, name := range defaultHiddenNames {
		hiddenNames[name] = struct{}{}
	}

	return &Collector{
		logger:       rootLogger.Named("process-collector"),
		sink:         sink,
		sortKey:      DefaultSortKey,
		hiddenNames:  hiddenNames,
		processCount: atomic.NewInt64(0),
	}
}

// Update rebuilds the process snapshot from the live process table, hands it
// to the snapshot sink and re-sorts it by the active sort key. Failures never
// propagate: a whole-enumeration failure degrades to an empty snapshot.
func (c *Collector) Update() {
	c.lock.Lock()
	defer c.lock.Unlock()

	snapshot, err := c.buildSnapshot()
	if err != nil {
		c.logger.Error("Failed to enumerate processes, publishing an empty snapshot", zap.Error(err))
		snapshot = nil
	}

	c.processes = snapshot
	c.processCount.Store(int64(len(snapshot)))

	// The aggregator sees exactly the snapshot subsequent queries will see.
	if c.sink != nil {
		c.sink.Update(snapshot)
	}

	sortRecords(c.processes, c.sortKey)
}

func (c *Collector) buildSnapshot() ([]Record, error) {
	liveProcesses, err := listProcesses()
	if err != nil {
		return nil, errors.WithMessage(err, "get live process list")
	}

	nowEpoch, hasNow := systemNow()
	if !hasNow {
		nowEpoch = 0
	}

	selfPid := int32(ownPid())
	snapshot := make([]Record, 0, len(liveProcesses))

	// Processes vanishing or denying access mid-scan are expected; their
	// read failures are collected for debug output only.
	var skipped error

	for _, liveProcess := range liveProcesses {
		if liveProcess.Pid == selfPid {
			continue
		}

		record, err := readProcess(liveProcess, nowEpoch)
		if err != nil {
			skipped = multierror.Append(skipped, err)
			continue
		}

		if _, hidden := c.hiddenNames[record.Name]; hidden {
			continue
		}

		if c.filterPattern != "" && !matchRecord(&record, c.filterPattern, c.filterKey) {
			continue
		}

		snapshot = append(snapshot, record)
	}

	if skipped != nil {
		c.logger.Debug("Skipped unavailable processes", zap.Error(skipped))
	}

	return snapshot, nil
}

// QueryOptions are one-shot overrides for a single Processes call. They never
// mutate the collector's persistent sort or filter state.
type QueryOptions struct {
	SortKey       string
	FilterPattern string
	FilterKey     string
	PinnedPids    []int32
}

// Processes returns a defensive copy of the snapshot with the per-call
// overrides applied. When a pin set is supplied, matching entries are marked
// and moved to the front, preserving relative order within each partition.
func (c *Collector) Processes(opts QueryOptions) ([]Record, error) {
	if opts.SortKey != "" {
		if err := validateSortKey(opts.SortKey); err != nil {
			return nil, err
		}
	}
	filterKey := opts.FilterKey
	if opts.FilterPattern != "" {
		if filterKey == "" {
			filterKey = "name"
		}
		if err := validateFilterKey(filterKey); err != nil {
			return nil, err
		}
	}

	c.lock.RLock()
	processes := make([]Record, len(c.processes))
	copy(processes, c.processes)
	c.lock.RUnlock()

	if opts.FilterPattern != "" {
		filtered := processes[:0]
		for i := range processes {
			if matchRecord(&processes[i], opts.FilterPattern, filterKey) {
				filtered = append(filtered, processes[i])
			}
		}
		processes = filtered
	}

	if opts.SortKey != "" {
		sortRecords(processes, opts.SortKey)
	}

	if len(opts.PinnedPids) > 0 {
		pinnedPids := make(map[int32]struct{}, len(opts.PinnedPids))
		for _, pid := range opts.PinnedPids {
			pinnedPids[pid] = struct{}{}
		}

		pinned := make([]Record, 0, len(opts.PinnedPids))
		unpinned := make([]Record, 0, len(processes))
		for i := range processes {
			if _, found := pinnedPids[processes[i].Pid]; found {
				processes[i].Pinned = true
				pinned = append(pinned, processes[i])
			} else {
				unpinned = append(unpinned, processes[i])
			}
		}
		processes = append(pinned, unpinned...)
	}

	return processes, nil
}

func (c *Collector) Count() int {
	return int(c.processCount.Load())
}

// SetSortKey changes the persistent sort key and re-sorts the current
// snapshot. Unknown keys are rejected up front.
func (c *Collector) SetSortKey(sortKey string) error {
	if err := validateSortKey(sortKey); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.sortKey = sortKey
	sortRecords(c.processes, c.sortKey)
	return nil
}

// SetFilter sets the persistent filter applied on every update cycle. An
// empty filter key defaults to the process name.
func (c *Collector) SetFilter(pattern, filterKey string) error {
	if filterKey == "" {
		filterKey = "name"
	}
	if err := validateFilterKey(filterKey); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.filterPattern = pattern
	c.filterKey = filterKey
	return nil
}

func (c *Collector) ClearFilter() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.filterPattern = ""
	c.filterKey = ""
}

// HideProcessName adds a name to the hide list applied on the next update.
func (c *Collector) HideProcessName(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.hiddenNames[name] = struct{}{}
}
