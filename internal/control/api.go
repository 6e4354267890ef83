package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/procwatch/agent/internal/collect"
	"github.com/procwatch/agent/internal/programs"
	"github.com/procwatch/agent/internal/reports"
	"github.com/procwatch/agent/internal/reports/general"
	"go.uber.org/zap"
)

// The query API serves the same snapshots the display layer reads, shaped by
// the serialization-facing reports. All handlers are read-mostly and safe to
// call concurrently with the update loop.
func (p *Plane) newApiMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/processes", p.handleProcesses)
	mux.HandleFunc("/api/processcount", p.handleProcessCount)
	mux.HandleFunc("/api/programs", p.handlePrograms)
	mux.HandleFunc("/api/programs/top", p.handleTopPrograms)
	mux.HandleFunc("/api/program", p.handleProgramByName)
	mux.HandleFunc("/api/host", p.handleHostStatus)
	mux.HandleFunc("/api/summary", p.handleSummary)
	mux.HandleFunc("/api/sort", p.handleSetSortKey)
	mux.HandleFunc("/api/filter", p.handleFilter)
	mux.HandleFunc("/api/pin", p.handlePinProgram)
	mux.HandleFunc("/api/unpin", p.handleUnpinProgram)

	return mux
}

func (p *Plane) handleProcesses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var pinnedPids []int32
	for _, raw := range splitListParam(query.Get("pinned")) {
		pid, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			http.Error(w, "invalid pinned pid '"+raw+"'", http.StatusBadRequest)
			return
		}
		pinnedPids = append(pinnedPids, int32(pid))
	}

	processes, err := p.collector.Processes(collect.QueryOptions{
		SortKey:       query.Get("sort"),
		FilterPattern: query.Get("filter"),
		FilterKey:     query.Get("filter_key"),
		PinnedPids:    pinnedPids,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report := general.NewProcessListReport(p.machineId, processes, p.collector.Count())
	p.writeReport(w, report)
}

func (p *Plane) handleProcessCount(w http.ResponseWriter, r *http.Request) {
	p.writeJson(w, map[string]int{"process_count": p.collector.Count()})
}

func (p *Plane) handlePrograms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	records, err := p.aggregator.Programs(programs.QueryOptions{
		SortKey:       query.Get("sort"),
		FilterPattern: query.Get("filter"),
		FilterKey:     query.Get("filter_key"),
		PinnedNames:   splitListParam(query.Get("pinned")),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report := general.NewProgramListReport(p.machineId, records, p.aggregator.LastUpdate())
	p.writeReport(w, report)
}

func (p *Plane) handleTopPrograms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	n := 5
	if rawN := query.Get("n"); rawN != "" {
		parsed, err := strconv.Atoi(rawN)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid program count '"+rawN+"'", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	records, err := p.aggregator.TopPrograms(n, query.Get("sort"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report := general.NewProgramListReport(p.machineId, records, p.aggregator.LastUpdate())
	p.writeReport(w, report)
}

func (p *Plane) handleProgramByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing program name", http.StatusBadRequest)
		return
	}

	record, found := p.aggregator.ProgramByName(name)
	if !found {
		http.Error(w, "program '"+name+"' not found", http.StatusNotFound)
		return
	}

	p.writeJson(w, record)
}

func (p *Plane) handleHostStatus(w http.ResponseWriter, r *http.Request) {
	report, err := general.NewHostStatusReport(p.machineId)
	if err != nil {
		p.logger.Error("Failed to build host status report", zap.Error(err))
		http.Error(w, "failed to build host status report", http.StatusInternalServerError)
		return
	}

	p.writeReport(w, report)
}

func (p *Plane) handleSummary(w http.ResponseWriter, r *http.Request) {
	hostReport, err := general.NewHostStatusReport(p.machineId)
	if err != nil {
		p.logger.Error("Failed to build host status report", zap.Error(err))
		http.Error(w, "failed to build summary", http.StatusInternalServerError)
		return
	}

	records := p.programList.Rows()
	programsReport := general.NewProgramListReport(p.machineId, records, p.aggregator.LastUpdate())

	merged, err := reports.MergeReports(hostReport, programsReport)
	if err != nil {
		p.logger.Error("Failed to merge summary reports", zap.Error(err))
		http.Error(w, "failed to build summary", http.StatusInternalServerError)
		return
	}

	p.writeJson(w, merged)
}

func (p *Plane) handleSetSortKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("key")
	target := r.URL.Query().Get("target")

	var err error
	switch target {
	case "", "processes":
		err = p.collector.SetSortKey(key)
	case "programs":
		err = p.programList.SetSortKey(key)
	default:
		http.Error(w, "unknown sort target '"+target+"'", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (p *Plane) handleFilter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		pattern := r.URL.Query().Get("pattern")
		filterKey := r.URL.Query().Get("key")
		target := r.URL.Query().Get("target")

		switch target {
		case "", "processes":
			if err := p.collector.SetFilter(pattern, filterKey); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		case "programs":
			p.programList.SetFilter(pattern, filterKey)
		default:
			http.Error(w, "unknown filter target '"+target+"'", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		p.collector.ClearFilter()
		p.programList.ClearFilter()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (p *Plane) handlePinProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing program name", http.StatusBadRequest)
		return
	}

	p.writeJson(w, map[string]bool{"pinned": p.programList.PinProgram(name)})
}

func (p *Plane) handleUnpinProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing program name", http.StatusBadRequest)
		return
	}

	p.writeJson(w, map[string]bool{"unpinned": p.programList.UnpinProgram(name)})
}

func (p *Plane) writeReport(w http.ResponseWriter, report reports.Report) {
	dump, err := report.DumpReport()
	if err != nil {
		p.logger.Error("Failed to dump report",
			zap.String("ReportName", report.ReportName()), zap.Error(err))
		http.Error(w, "failed to serialize report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(dump)
}

func (p *Plane) writeJson(w http.ResponseWriter, payload interface{}) {
	dump, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to serialize response", zap.Error(err))
		http.Error(w, "failed to serialize response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(dump)
}

func splitListParam(raw string) []string {
	if raw == "" {
		return nil
	}

	var values []string
	for _, value := range strings.Split(raw, ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	return values
}
