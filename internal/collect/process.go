package collect

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/match"
)

type IOCounters struct {
	ReadCount  uint64 `json:"read_count"`
	WriteCount uint64 `json:"write_count"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
}

// Record is one OS process at snapshot time. Records are built fresh on every
// update cycle and the whole snapshot is replaced atomically, so a published
// record is never mutated in place.
type Record struct {
	Pid            int32         `json:"pid"`
	Name           string        `json:"name"`
	Cmdline        []string      `json:"cmdline"`
	Status         string        `json:"status"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryPercent  float64       `json:"memory_percent"`
	MemoryRSS      uint64        `json:"memory_rss"`
	MemoryVMS      uint64        `json:"memory_vms"`
	NumThreads     int32         `json:"num_threads"`
	NumConnections int           `json:"num_connections"`
	IOCounters     *IOCounters   `json:"io_counters,omitempty"`
	CreateTime     time.Time     `json:"create_time"`
	Uptime         time.Duration `json:"uptime"`
	Pinned         bool          `json:"pinned"`
}

// Recognized sort keys map to an accessor each; load-bearing numeric keys
// sort descending (highest load first), the rest ascending. Unrecognized
// keys are rejected up front instead of silently sorting by zero.
type sortSpec struct {
	descending bool
	less       func(a, b *Record) bool
}

var sortSpecs = map[string]sortSpec{
	"cpu_percent":     {true, func(a, b *Record) bool { return a.CPUPercent < b.CPUPercent }},
	"memory_percent":  {true, func(a, b *Record) bool { return a.MemoryPercent < b.MemoryPercent }},
	"memory_rss":      {true, func(a, b *Record) bool { return a.MemoryRSS < b.MemoryRSS }},
	"memory_vms":      {true, func(a, b *Record) bool { return a.MemoryVMS < b.MemoryVMS }},
	"num_threads":     {true, func(a, b *Record) bool { return a.NumThreads < b.NumThreads }},
	"pid":             {false, func(a, b *Record) bool { return a.Pid < b.Pid }},
	"name":            {false, func(a, b *Record) bool { return a.Name < b.Name }},
	"status":          {false, func(a, b *Record) bool { return a.Status < b.Status }},
	"create_time":     {false, func(a, b *Record) bool { return a.CreateTime.Before(b.CreateTime) }},
	"uptime":          {false, func(a, b *Record) bool { return a.Uptime < b.Uptime }},
	"num_connections": {false, func(a, b *Record) bool { return a.NumConnections < b.NumConnections }},
}

func validateSortKey(sortKey string) error {
	if _, found := sortSpecs[sortKey]; !found {
		return errors.Errorf("unknown process sort key '%s'", sortKey)
	}
	return nil
}

func sortRecords(records []Record, sortKey string) {
	spec, found := sortSpecs[sortKey]
	if !found {
		return // Keys are validated on the way in.
	}

	sort.SliceStable(records, func(i, j int) bool {
		if spec.descending {
			return spec.less(&records[j], &records[i])
		}
		return spec.less(&records[i], &records[j])
	})
}

var filterAccessors = map[string]func(r *Record) string{
	"name":    func(r *Record) string { return r.Name },
	"cmdline": func(r *Record) string { return strings.Join(r.Cmdline, " ") },
	"status":  func(r *Record) string { return r.Status },
}

func validateFilterKey(filterKey string) error {
	if _, found := filterAccessors[filterKey]; !found {
		return errors.Errorf("unknown process filter key '%s'", filterKey)
	}
	return nil
}

func matchRecord(r *Record, pattern, filterKey string) bool {
	accessor, found := filterAccessors[filterKey]
	if !found {
		return false
	}
	return match.Matches(pattern, accessor(r))
}
