package reports

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Report is a serialization-facing view consumed by the API layer.
type Report interface {
	ReportName() string
	DumpReport() ([]byte, error)
}

// MergeReports flattens several reports into one JSON object.
func MergeReports(reports ...Report) (map[string]interface{}, error) {
	merged := make(map[string]interface{})

	for _, report := range reports {
		reportName := report.ReportName()

		reportDump, err := report.DumpReport()
		if err != nil {
			return nil, errors.WithMessagef(err, "dump report '%s'", reportName)
		}

		if err := json.Unmarshal(reportDump, &merged); err != nil {
			return nil, errors.WithMessagef(err, "merge with report '%s'", reportName)
		}
	}

	return merged, nil
}
