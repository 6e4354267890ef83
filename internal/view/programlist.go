package view

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/collect"
	"github.com/procwatch/agent/internal/config"
	"github.com/procwatch/agent/internal/programs"
	"go.uber.org/zap"
)

const configSection = "programlist"

const (
	defaultMaxPrograms      = 50
	defaultMaxSubprocesses  = 5
	defaultShowSubprocesses = true
)

// ProgramList shapes the aggregated program table for a display layer: it
// owns the persistent sort key, a single filter pattern/key pair, the pinned
// program names and the display caps. Rendering itself lives elsewhere.
type ProgramList struct {
	logger     *zap.Logger
	aggregator *programs.Aggregator

	lock             sync.RWMutex
	sortKey          string
	filterPattern    string
	filterKey        string
	pinnedPrograms   []string
	maxPrograms      int
	showSubprocesses bool
	maxSubprocesses  int
	rows             []programs.Record
}

func NewProgramList(rootLogger *zap.Logger, aggregator *programs.Aggregator) *ProgramList {
	return &ProgramList{
		logger:           rootLogger.Named("program-list"),
		aggregator:       aggregator,
		sortKey:          programs.DefaultSortKey,
		maxPrograms:      defaultMaxPrograms,
		showSubprocesses: defaultShowSubprocesses,
		maxSubprocesses:  defaultMaxSubprocesses,
	}
}

// LoadConfig applies the 'programlist' section. An unrecognized sort key or
// a malformed option is a configuration error, not a silent default.
func (pl *ProgramList) LoadConfig(cfg *config.Config) error {
	if !cfg.HasSection(configSection) {
		return nil
	}

	pl.lock.Lock()
	defer pl.lock.Unlock()

	if cfg.HasOption(configSection, "sort_key") {
		sortKey, err := cfg.GetString(configSection, "sort_key")
		if err != nil {
			return errors.WithMessage(err, "load program list sort key")
		}
		if !programs.ValidSortKey(sortKey) {
			return errors.Errorf("unknown program sort key '%s' in configuration", sortKey)
		}
		pl.sortKey = sortKey
		pl.logger.Debug("Program list sort key set from configuration", zap.String("SortKey", sortKey))
	}

	if cfg.HasOption(configSection, "max_programs") {
		maxPrograms, err := cfg.GetInt(configSection, "max_programs")
		if err != nil {
			return errors.WithMessage(err, "load program list max programs")
		}
		pl.maxPrograms = maxPrograms
	}

	if cfg.HasOption(configSection, "show_subprocesses") {
		showSubprocesses, err := cfg.GetBool(configSection, "show_subprocesses")
		if err != nil {
			return errors.WithMessage(err, "load program list show subprocesses")
		}
		pl.showSubprocesses = showSubprocesses
	}

	if cfg.HasOption(configSection, "max_subprocesses") {
		maxSubprocesses, err := cfg.GetInt(configSection, "max_subprocesses")
		if err != nil {
			return errors.WithMessage(err, "load program list max subprocesses")
		}
		pl.maxSubprocesses = maxSubprocesses
	}

	return nil
}

// Update refreshes the cached rows from the aggregator using the persistent
// sort/filter/pin state. A failed refresh leaves empty rows, never an error.
func (pl *ProgramList) Update() {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	rows, err := pl.aggregator.Programs(programs.QueryOptions{
		SortKey:       pl.sortKey,
		FilterPattern: pl.filterPattern,
		FilterKey:     pl.filterKey,
		PinnedNames:   pl.pinnedPrograms,
	})
	if err != nil {
		pl.logger.Error("Failed to refresh program list", zap.Error(err))
		pl.rows = nil
		return
	}

	pl.rows = rows
}

// Rows returns a copy of the cached rows, capped at the configured maximum.
func (pl *ProgramList) Rows() []programs.Record {
	pl.lock.RLock()
	defer pl.lock.RUnlock()

	rows := pl.rows
	if pl.maxPrograms >= 0 && len(rows) > pl.maxPrograms {
		rows = rows[:pl.maxPrograms]
	}

	out := make([]programs.Record, len(rows))
	copy(out, rows)
	return out
}

// RowDetail is one display row: the program plus the member processes to
// show beneath it and the count of members omitted by the subprocess cap.
type RowDetail struct {
	Program      programs.Record
	Subprocesses []collect.Record
	Omitted      int
}

// Details expands the cached rows into display rows, honoring the
// show_subprocesses and max_subprocesses settings.
func (pl *ProgramList) Details() []RowDetail {
	rows := pl.Rows()

	pl.lock.RLock()
	showSubprocesses := pl.showSubprocesses
	maxSubprocesses := pl.maxSubprocesses
	pl.lock.RUnlock()

	details := make([]RowDetail, 0, len(rows))
	for _, row := range rows {
		detail := RowDetail{Program: row}
		if showSubprocesses && len(row.Processes) > 0 {
			subprocesses := row.Processes
			if maxSubprocesses >= 0 && len(subprocesses) > maxSubprocesses {
				detail.Omitted = len(subprocesses) - maxSubprocesses
				subprocesses = subprocesses[:maxSubprocesses]
			}
			detail.Subprocesses = subprocesses
		}
		details = append(details, detail)
	}
	return details
}

// SetSortKey changes the persistent sort key for subsequent updates.
func (pl *ProgramList) SetSortKey(sortKey string) error {
	if !programs.ValidSortKey(sortKey) {
		return errors.Errorf("unknown program sort key '%s'", sortKey)
	}

	pl.lock.Lock()
	pl.sortKey = sortKey
	pl.lock.Unlock()

	pl.logger.Debug("Program list sort key set", zap.String("SortKey", sortKey))
	return nil
}

// SetFilter sets the single persistent filter pattern/key pair.
func (pl *ProgramList) SetFilter(pattern, filterKey string) {
	if filterKey == "" {
		filterKey = "name"
	}

	pl.lock.Lock()
	pl.filterPattern = pattern
	pl.filterKey = filterKey
	pl.lock.Unlock()

	pl.logger.Debug("Program list filter set",
		zap.String("Pattern", pattern), zap.String("FilterKey", filterKey))
}

func (pl *ProgramList) ClearFilter() {
	pl.lock.Lock()
	pl.filterPattern = ""
	pl.filterKey = ""
	pl.lock.Unlock()
}

// PinProgram pins a program name to the front of the listing. Pinning an
// already-pinned name is a no-op returning false.
func (pl *ProgramList) PinProgram(name string) bool {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	for _, pinned := range pl.pinnedPrograms {
		if pinned == name {
			return false
		}
	}

	pl.pinnedPrograms = append(pl.pinnedPrograms, name)
	pl.logger.Debug("Program pinned", zap.String("Program", name))
	return true
}

// UnpinProgram removes a pin; unpinning a name that isn't pinned returns
// false.
func (pl *ProgramList) UnpinProgram(name string) bool {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	for i, pinned := range pl.pinnedPrograms {
		if pinned == name {
			pl.pinnedPrograms = append(pl.pinnedPrograms[:i], pl.pinnedPrograms[i+1:]...)
			pl.logger.Debug("Program unpinned", zap.String("Program", name))
			return true
		}
	}
	return false
}

// PinnedPrograms returns a copy of the pinned name list.
func (pl *ProgramList) PinnedPrograms() []string {
	pl.lock.RLock()
	defer pl.lock.RUnlock()

	pinned := make([]string, len(pl.pinnedPrograms))
	copy(pinned, pl.pinnedPrograms)
	return pinned
}
