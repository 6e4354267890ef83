package general

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/types"
	"github.com/shirou/gopsutil/host"
	"gopkg.in/guregu/null.v3"
)

type HostStatusReport struct {
	MachineId       string    `json:"machine_id"`
	Hostname        string    `json:"hostname"`
	LastBootTime    null.Time `json:"last_boot_time"`
	OS              string    `json:"os"`
	Platform        string    `json:"platform"`
	PlatformFamily  string    `json:"platform_family"`
	PlatformVersion string    `json:"platform_version"`
	KernelVersion   string    `json:"kernel_version"`
	KernelArch      string    `json:"kernel_arch"`
}

func NewHostStatusReport(machineId string) (*HostStatusReport, error) {
	hostInfo, err := host.Info()
	if err != nil {
		return nil, errors.WithMessage(err, "get host info")
	}

	return &HostStatusReport{
		MachineId:       machineId,
		Hostname:        hostInfo.Hostname,
		LastBootTime:    null.TimeFrom(types.TimeFromTimestamp(int64(hostInfo.BootTime))),
		OS:              hostInfo.OS,
		Platform:        hostInfo.Platform,
		PlatformFamily:  hostInfo.PlatformFamily,
		PlatformVersion: hostInfo.PlatformVersion,
		KernelVersion:   hostInfo.KernelVersion,
		KernelArch:      hostInfo.KernelArch,
	}, nil
}

func (h *HostStatusReport) ReportName() string {
	return "host-status-report"
}

func (h *HostStatusReport) DumpReport() ([]byte, error) {
	return json.Marshal(h)
}
