package general

import (
	"encoding/json"
	"time"

	"github.com/procwatch/agent/internal/programs"
	"gopkg.in/guregu/null.v3"
)

// Each serialized program embeds at most this many member processes, so the
// payload stays bounded however many PIDs a program accumulates.
const maxEmbeddedProcesses = 10

type MemberProcess struct {
	Pid        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
}

// ProgramEntry shadows the record's full member list with the capped form.
type ProgramEntry struct {
	programs.Record
	Processes []MemberProcess `json:"processes"`
}

type ProgramListReport struct {
	MachineId  string         `json:"machine_id"`
	LastUpdate null.Time      `json:"last_update"`
	Programs   []ProgramEntry `json:"programs"`
}

func NewProgramListReport(machineId string, records []programs.Record, lastUpdate time.Time) *ProgramListReport {
	entries := make([]ProgramEntry, 0, len(records))

	for _, record := range records {
		members := record.Processes
		if len(members) > maxEmbeddedProcesses {
			members = members[:maxEmbeddedProcesses]
		}

		memberProcesses := make([]MemberProcess, 0, len(members))
		for _, member := range members {
			memberProcesses = append(memberProcesses, MemberProcess{
				Pid:        member.Pid,
				Name:       member.Name,
				CPUPercent: member.CPUPercent,
			})
		}

		entries = append(entries, ProgramEntry{Record: record, Processes: memberProcesses})
	}

	report := &ProgramListReport{
		MachineId: machineId,
		Programs:  entries,
	}
	if !lastUpdate.IsZero() {
		report.LastUpdate = null.TimeFrom(lastUpdate.UTC())
	}
	return report
}

func (p *ProgramListReport) ReportName() string {
	return "program-list-report"
}

func (p *ProgramListReport) DumpReport() ([]byte, error) {
	return json.Marshal(p)
}
