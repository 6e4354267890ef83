package programs

import (
	"testing"

	"github.com/procwatch/agent/internal/collect"
	"github.com/procwatch/agent/internal/thresholds"
	"go.uber.org/zap"
)

func newTestAggregator(t *testing.T) (*Aggregator, *thresholds.Registry) {
	t.Helper()
	registry := thresholds.NewRegistry(zap.NewNop())
	return NewAggregator(zap.NewNop(), registry), registry
}

func pythonWorkers() []collect.Record {
	return []collect.Record{
		{Pid: 10, Name: "python3", Cmdline: []string{"python3", "a.py"}, CPUPercent: 5.0, MemoryPercent: 1.0,
			MemoryRSS: 100, MemoryVMS: 400, NumThreads: 3, NumConnections: 2,
			IOCounters: &collect.IOCounters{ReadBytes: 10, WriteBytes: 20}},
		{Pid: 11, Name: "python3", Cmdline: []string{"python3", "a.py"}, CPUPercent: 3.0, MemoryPercent: 0.5,
			MemoryRSS: 50, MemoryVMS: 200, NumThreads: 2, NumConnections: 1,
			IOCounters: &collect.IOCounters{ReadBytes: 5, WriteBytes: 15}},
	}
}

func TestUpdateAggregatesSharedProgram(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update(pythonWorkers())

	records, err := aggregator.Programs(QueryOptions{})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one program, got %d", len(records))
	}

	program := records[0]
	if program.Name != "python3:a" {
		t.Fatalf("unexpected program name: %q", program.Name)
	}
	if program.PidsCount != 2 || len(program.Pids) != 2 || len(program.Processes) != 2 {
		t.Fatalf("member counts disagree: %+v", program)
	}
	if program.Pids[0] != 10 || program.Pids[1] != 11 {
		t.Fatalf("pids should keep first-seen order: %v", program.Pids)
	}
	if program.CPUPercentTotal != 8.0 {
		t.Fatalf("unexpected cpu total: %f", program.CPUPercentTotal)
	}
	if program.MemoryPercentTotal != 1.5 {
		t.Fatalf("unexpected memory total: %f", program.MemoryPercentTotal)
	}
	if program.MemoryRSS != 150 || program.MemoryVMS != 600 {
		t.Fatalf("unexpected memory sums: rss %d, vms %d", program.MemoryRSS, program.MemoryVMS)
	}
	if program.Threads != 5 || program.Connections != 3 {
		t.Fatalf("unexpected thread/connection sums: %d, %d", program.Threads, program.Connections)
	}
	if program.IOReadBytes != 15 || program.IOWriteBytes != 35 {
		t.Fatalf("unexpected io sums: %d, %d", program.IOReadBytes, program.IOWriteBytes)
	}
	// Member processes sort by descending CPU.
	if program.Processes[0].Pid != 10 || program.Processes[1].Pid != 11 {
		t.Fatalf("member processes not cpu-sorted: %+v", program.Processes)
	}
}

func TestUpdatePartitionsEveryProcess(t *testing.T) {
	aggregator, _ := newTestAggregator(t)

	processes := append(pythonWorkers(),
		collect.Record{Pid: 20, Name: "nginx", Cmdline: []string{"nginx"}, CPUPercent: 1.0},
		collect.Record{Pid: 21, Name: "kworker", CPUPercent: 0.1},
	)
	aggregator.Update(processes)

	records, err := aggregator.Programs(QueryOptions{})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}

	total := 0
	for _, record := range records {
		total += record.PidsCount
		if record.PidsCount != len(record.Pids) || record.PidsCount != len(record.Processes) {
			t.Fatalf("count invariant violated for %q", record.Name)
		}
	}
	if total != len(processes) {
		t.Fatalf("every process must land in exactly one program: %d != %d", total, len(processes))
	}
}

func TestUpdateDefaultsMissingThreadCountToOne(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update([]collect.Record{
		{Pid: 30, Name: "kworker"},
		{Pid: 31, Name: "kworker"},
	})

	program, found := aggregator.ProgramByName("kworker")
	if !found {
		t.Fatalf("program not found")
	}
	if program.Threads != 2 {
		t.Fatalf("absent thread counts should default to 1 each, got %d", program.Threads)
	}
}

func TestStatusFollowsThresholds(t *testing.T) {
	aggregator, registry := newTestAggregator(t)
	registry.Set("program_cpu_warning", 6)
	registry.Set("program_cpu_critical", 100)
	registry.Set("program_mem_warning", 50)
	registry.Set("program_mem_critical", 90)

	aggregator.Update(pythonWorkers()) // cpu total 8.0, mem total 1.5

	program, found := aggregator.ProgramByName("python3:a")
	if !found {
		t.Fatalf("program not found")
	}
	if program.CPUStatus != thresholds.StatusWarning {
		t.Fatalf("unexpected cpu status: %s", program.CPUStatus)
	}
	if program.MemStatus != thresholds.StatusOk {
		t.Fatalf("unexpected mem status: %s", program.MemStatus)
	}
	if program.Status != thresholds.StatusWarning {
		t.Fatalf("status should be the worse of the two: %s", program.Status)
	}

	registry.Set("program_cpu_critical", 7)
	aggregator.Update(pythonWorkers())
	program, _ = aggregator.ProgramByName("python3:a")
	if program.Status != thresholds.StatusCritical {
		t.Fatalf("cpu total above critical must yield CRITICAL, got %s", program.Status)
	}
}

func TestUpdateReplacesTableWholesale(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update(pythonWorkers())

	aggregator.Update([]collect.Record{
		{Pid: 40, Name: "nginx", Cmdline: []string{"nginx"}, CPUPercent: 2.0},
	})

	if _, found := aggregator.ProgramByName("python3:a"); found {
		t.Fatalf("stale program survived a table rebuild")
	}
	if _, found := aggregator.ProgramByName("nginx"); !found {
		t.Fatalf("fresh program missing after rebuild")
	}
}

func TestUpdateRecoversFromAggregationPanic(t *testing.T) {
	// A nil registry makes classification panic; the table must reset to
	// empty for the cycle instead of crashing the update loop.
	aggregator := NewAggregator(zap.NewNop(), nil)
	aggregator.Update(pythonWorkers())

	records, err := aggregator.Programs(QueryOptions{})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty table after aggregation failure, got %d", len(records))
	}
}

func TestProgramsSortingAndFiltering(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update([]collect.Record{
		{Pid: 1, Name: "nginx", Cmdline: []string{"nginx"}, CPUPercent: 1.0, MemoryRSS: 100},
		{Pid: 2, Name: "redis-server", Cmdline: []string{"redis-server"}, CPUPercent: 9.0, MemoryRSS: 300},
		{Pid: 3, Name: "postgres", Cmdline: []string{"postgres"}, CPUPercent: 4.0, MemoryRSS: 200},
	})

	byName, err := aggregator.Programs(QueryOptions{SortKey: "name"})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if byName[0].Name != "nginx" || byName[2].Name != "redis-server" {
		t.Fatalf("name should sort ascending: %+v", byName)
	}

	byCpu, err := aggregator.Programs(QueryOptions{})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if byCpu[0].Name != "redis-server" {
		t.Fatalf("default cpu sort should put the heaviest first: %+v", byCpu)
	}

	filtered, err := aggregator.Programs(QueryOptions{FilterPattern: "redis", FilterKey: "name"})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "redis-server" {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}

	if _, err := aggregator.Programs(QueryOptions{SortKey: "no_such_key"}); err == nil {
		t.Fatalf("expected error for unknown sort key")
	}
	if _, err := aggregator.Programs(QueryOptions{FilterPattern: "x", FilterKey: "no_such_key"}); err == nil {
		t.Fatalf("expected error for unknown filter key")
	}
}

func TestProgramsPinnedPrecedeUnpinned(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update([]collect.Record{
		{Pid: 1, Name: "nginx", Cmdline: []string{"nginx"}, CPUPercent: 1.0},
		{Pid: 2, Name: "redis-server", Cmdline: []string{"redis-server"}, CPUPercent: 9.0},
		{Pid: 3, Name: "postgres", Cmdline: []string{"postgres"}, CPUPercent: 4.0},
	})

	records, err := aggregator.Programs(QueryOptions{PinnedNames: []string{"nginx"}})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if records[0].Name != "nginx" || !records[0].Pinned {
		t.Fatalf("pinned program should lead: %+v", records[0])
	}
	// Unpinned partition keeps the cpu-descending order.
	if records[1].Name != "redis-server" || records[2].Name != "postgres" {
		t.Fatalf("unpinned partition reordered: %+v", records)
	}

	// Pin marks live only in the returned copy, never in the cache.
	records, err = aggregator.Programs(QueryOptions{})
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	for _, record := range records {
		if record.Pinned {
			t.Fatalf("pin leaked into the cached table: %+v", record)
		}
	}
}

func TestTopPrograms(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update([]collect.Record{
		{Pid: 1, Name: "nginx", Cmdline: []string{"nginx"}, CPUPercent: 1.0},
		{Pid: 2, Name: "redis-server", Cmdline: []string{"redis-server"}, CPUPercent: 9.0},
		{Pid: 3, Name: "postgres", Cmdline: []string{"postgres"}, CPUPercent: 4.0},
	})

	top, err := aggregator.TopPrograms(2, "cpu_percent_total")
	if err != nil {
		t.Fatalf("top programs: %v", err)
	}
	if len(top) != 2 || top[0].Name != "redis-server" || top[1].Name != "postgres" {
		t.Fatalf("unexpected top programs: %+v", top)
	}
}

func TestProgramByNameNotFound(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	aggregator.Update(nil)

	if _, found := aggregator.ProgramByName("ghost"); found {
		t.Fatalf("expected not-found signal")
	}
}

func TestLastUpdateZeroBeforeFirstUpdate(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	if !aggregator.LastUpdate().IsZero() {
		t.Fatalf("last update should be zero before any update")
	}

	aggregator.Update(nil)
	if aggregator.LastUpdate().IsZero() {
		t.Fatalf("last update should be set after an update")
	}
}
