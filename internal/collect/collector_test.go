package collect

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	psUtil "github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

type captureSink struct {
	snapshots [][]Record
}

func (s *captureSink) Update(processes []Record) {
	s.snapshots = append(s.snapshots, processes)
}

// stubInspection points the OS inspection seams at a synthetic process table.
// Records with a true value in failed simulate processes that vanished or
// denied access mid-scan.
func stubInspection(t *testing.T, records []Record, failed map[int32]bool) {
	t.Helper()

	t.Cleanup(func() {
		listProcesses = psUtil.Processes
		readProcess = readProcessStats
		systemNow = systemNowEpoch
		ownPid = os.Getpid
	})

	byPid := make(map[int32]Record, len(records))
	live := make([]*psUtil.Process, 0, len(records))
	for _, record := range records {
		byPid[record.Pid] = record
		live = append(live, &psUtil.Process{Pid: record.Pid})
	}

	listProcesses = func() ([]*psUtil.Process, error) {
		return live, nil
	}
	readProcess = func(proc *psUtil.Process, nowEpoch int64) (Record, error) {
		if failed[proc.Pid] {
			return Record{}, errors.Errorf("process '%d' is gone", proc.Pid)
		}
		return byPid[proc.Pid], nil
	}
	systemNow = func() (int64, bool) {
		return 0, false
	}
	ownPid = func() int { return -1 }
}

func testRecords() []Record {
	return []Record{
		{Pid: 10, Name: "nginx", Status: "S", CPUPercent: 1.0, MemoryPercent: 2.0, MemoryRSS: 300, NumThreads: 4},
		{Pid: 11, Name: "redis-server", Status: "S", CPUPercent: 5.0, MemoryPercent: 1.0, MemoryRSS: 100, NumThreads: 2},
		{Pid: 12, Name: "postgres", Status: "R", CPUPercent: 3.0, MemoryPercent: 4.0, MemoryRSS: 200, NumThreads: 8},
	}
}

func TestUpdateBuildsSortedSnapshot(t *testing.T) {
	stubInspection(t, testRecords(), nil)

	sink := &captureSink{}
	collector := NewCollector(zap.NewNop(), sink)
	collector.Update()

	if got := collector.Count(); got != 3 {
		t.Fatalf("unexpected process count: %d", got)
	}

	processes, err := collector.Processes(QueryOptions{})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(processes) != 3 {
		t.Fatalf("unexpected snapshot length: %d", len(processes))
	}
	// Default sort key is cpu_percent, descending.
	if processes[0].Pid != 11 || processes[1].Pid != 12 || processes[2].Pid != 10 {
		t.Fatalf("unexpected order: %d, %d, %d", processes[0].Pid, processes[1].Pid, processes[2].Pid)
	}

	if len(sink.snapshots) != 1 {
		t.Fatalf("sink should have received exactly one snapshot, got %d", len(sink.snapshots))
	}
	if len(sink.snapshots[0]) != 3 {
		t.Fatalf("sink snapshot should carry all processes, got %d", len(sink.snapshots[0]))
	}
}

func TestUpdateSkipsUnavailableProcesses(t *testing.T) {
	stubInspection(t, testRecords(), map[int32]bool{11: true})

	collector := NewCollector(zap.NewNop(), nil)
	collector.Update()

	if got := collector.Count(); got != 2 {
		t.Fatalf("vanished process should be skipped, count %d", got)
	}

	processes, err := collector.Processes(QueryOptions{})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	for _, process := range processes {
		if process.Pid == 11 {
			t.Fatalf("skipped process leaked into the snapshot")
		}
	}
}

func TestUpdateAppliesHideList(t *testing.T) {
	records := append(testRecords(), Record{Pid: 13, Name: "gopsutil", CPUPercent: 9.0})
	stubInspection(t, records, nil)

	collector := NewCollector(zap.NewNop(), nil)
	collector.HideProcessName("postgres")
	collector.Update()

	processes, err := collector.Processes(QueryOptions{})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(processes) != 2 {
		t.Fatalf("expected hidden names to be excluded, got %d processes", len(processes))
	}
	for _, process := range processes {
		if process.Name == "gopsutil" || process.Name == "postgres" {
			t.Fatalf("hidden process '%s' present in snapshot", process.Name)
		}
	}
}

func TestUpdateSkipsOwnProcess(t *testing.T) {
	stubInspection(t, testRecords(), nil)
	ownPid = func() int { return 12 }

	collector := NewCollector(zap.NewNop(), nil)
	collector.Update()

	if got := collector.Count(); got != 2 {
		t.Fatalf("own process should be excluded, count %d", got)
	}
}

func TestPersistentFilterAppliesOnUpdate(t *testing.T) {
	stubInspection(t, testRecords(), nil)

	collector := NewCollector(zap.NewNop(), nil)
	if err := collector.SetFilter("ngin", "name"); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	collector.Update()

	processes, err := collector.Processes(QueryOptions{})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(processes) != 1 || processes[0].Name != "nginx" {
		t.Fatalf("persistent filter not applied: %+v", processes)
	}

	collector.ClearFilter()
	collector.Update()
	if got := collector.Count(); got != 3 {
		t.Fatalf("cleared filter should restore full snapshot, count %d", got)
	}
}

func TestUpdateEnumerationFailureDegradesToEmpty(t *testing.T) {
	stubInspection(t, testRecords(), nil)
	listProcesses = func() ([]*psUtil.Process, error) {
		return nil, errors.New("permission denied")
	}

	sink := &captureSink{}
	collector := NewCollector(zap.NewNop(), sink)
	collector.Update()

	if got := collector.Count(); got != 0 {
		t.Fatalf("enumeration failure should leave an empty snapshot, count %d", got)
	}
	if len(sink.snapshots) != 1 || len(sink.snapshots[0]) != 0 {
		t.Fatalf("aggregator should still receive the (empty) snapshot")
	}
}

func TestProcessesOneShotOverridesDoNotMutateState(t *testing.T) {
	stubInspection(t, testRecords(), nil)

	collector := NewCollector(zap.NewNop(), nil)
	collector.Update()

	byName, err := collector.Processes(QueryOptions{SortKey: "name", FilterPattern: "s", FilterKey: "name"})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(byName) != 2 || byName[0].Name != "postgres" || byName[1].Name != "redis-server" {
		t.Fatalf("one-shot sort/filter wrong: %+v", byName)
	}

	// The per-call overrides must leave the persistent state untouched.
	processes, err := collector.Processes(QueryOptions{})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(processes) != 3 || processes[0].Pid != 11 {
		t.Fatalf("persistent state mutated by one-shot overrides: %+v", processes)
	}
}

func TestProcessesPinMovesToFront(t *testing.T) {
	stubInspection(t, testRecords(), nil)

	collector := NewCollector(zap.NewNop(), nil)
	collector.Update()

	processes, err := collector.Processes(QueryOptions{PinnedPids: []int32{10}})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if processes[0].Pid != 10 || !processes[0].Pinned {
		t.Fatalf("pinned process should lead the list: %+v", processes[0])
	}
	// Unpinned partition keeps its prior (cpu-descending) order.
	if processes[1].Pid != 11 || processes[2].Pid != 12 {
		t.Fatalf("unpinned partition reordered: %d, %d", processes[1].Pid, processes[2].Pid)
	}

	// Pins are per call, the stored snapshot stays unmarked.
	processes, err = collector.Processes(QueryOptions{})
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	for _, process := range processes {
		if process.Pinned {
			t.Fatalf("pin leaked into the stored snapshot: %+v", process)
		}
	}
}

func TestUnknownKeysAreRejected(t *testing.T) {
	stubInspection(t, testRecords(), nil)

	collector := NewCollector(zap.NewNop(), nil)
	collector.Update()

	if err := collector.SetSortKey("no_such_key"); err == nil {
		t.Fatalf("expected error for unknown sort key")
	}
	if err := collector.SetFilter("x", "no_such_key"); err == nil {
		t.Fatalf("expected error for unknown filter key")
	}
	if _, err := collector.Processes(QueryOptions{SortKey: "no_such_key"}); err == nil {
		t.Fatalf("expected error for unknown one-shot sort key")
	}
	if _, err := collector.Processes(QueryOptions{FilterPattern: "x", FilterKey: "no_such_key"}); err == nil {
		t.Fatalf("expected error for unknown one-shot filter key")
	}
}
