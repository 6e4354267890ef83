package general

import (
	"encoding/json"

	"github.com/procwatch/agent/internal/collect"
)

type ProcessListReport struct {
	MachineId    string           `json:"machine_id"`
	ProcessCount int              `json:"process_count"`
	Processes    []collect.Record `json:"processes"`
}

func NewProcessListReport(machineId string, processes []collect.Record, processCount int) *ProcessListReport {
	return &ProcessListReport{
		MachineId:    machineId,
		ProcessCount: processCount,
		Processes:    processes,
	}
}

func (p *ProcessListReport) ReportName() string {
	return "process-list-report"
}

func (p *ProcessListReport) DumpReport() ([]byte, error) {
	return json.Marshal(p)
}
