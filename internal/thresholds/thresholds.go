package thresholds

import (
	"sync"

	"github.com/procwatch/agent/internal/config"
	"go.uber.org/zap"
)

type Status string

const (
	StatusOk       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

var statusRank = map[Status]int{
	StatusOk:       0,
	StatusWarning:  1,
	StatusCritical: 2,
}

// Worse returns the more severe of the two statuses.
func (s Status) Worse(other Status) Status {
	if statusRank[other] > statusRank[s] {
		return other
	}
	return s
}

const configSection = "thresholds"

// Registry holds warning/critical levels per metric category. It is shared by
// reference across consumers; reads are frequent, writes are rare
// (configuration load or an explicit administrative set).
type Registry struct {
	logger *zap.Logger
	lock   sync.RWMutex
	levels map[string]float64
}

func NewRegistry(rootLogger *zap.Logger) *Registry {
	return &Registry{
		logger: rootLogger.Named("thresholds"),
		levels: defaultLevels(),
	}
}

func defaultLevels() map[string]float64 {
	return map[string]float64{
		"cpu_warning":           50,
		"cpu_critical":          70,
		"mem_warning":           50,
		"mem_critical":          70,
		"swap_warning":          50,
		"swap_critical":         70,
		"load_warning":          0.7,
		"load_critical":         1.0,
		"disk_used_warning":     80,
		"disk_used_critical":    90,
		"disk_inode_warning":    80,
		"disk_inode_critical":   90,
		"network_rx_warning":    1024 * 1024, // 1 MB/s
		"network_tx_warning":    1024 * 1024, // 1 MB/s
		"sensors_temp_warning":  70,
		"sensors_temp_critical": 80,
		"process_warning":       200,
		"process_critical":      300,
		"program_cpu_warning":   50,
		"program_cpu_critical":  70,
		"program_mem_warning":   50,
		"program_mem_critical":  70,
	}
}

// LoadConfig overrides individual levels from the 'thresholds' section. An
// option that doesn't parse as a number is reported as a warning and the
// current value is retained, never fatal.
func (r *Registry) LoadConfig(cfg *config.Config) {
	if !cfg.HasSection(configSection) {
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	for key := range r.levels {
		if !cfg.HasOption(configSection, key) {
			continue
		}

		value, err := cfg.GetFloat(configSection, key)
		if err != nil {
			r.logger.Warn("Invalid threshold override, keeping current value",
				zap.String("Threshold", key), zap.Error(err))
			continue
		}

		r.levels[key] = value
		r.logger.Debug("Threshold overridden from configuration",
			zap.String("Threshold", key), zap.Float64("Value", value))
	}
}

// Get returns the configured level for a key, or the given fallback if the
// key is unset.
func (r *Registry) Get(key string, fallback float64) float64 {
	r.lock.RLock()
	defer r.lock.RUnlock()

	level, found := r.levels[key]
	if !found {
		return fallback
	}
	return level
}

// Set overwrites a level. Subsequent classifications use the new value;
// a classification racing with Set may observe either value.
func (r *Registry) Set(key string, value float64) {
	r.lock.Lock()
	r.levels[key] = value
	r.lock.Unlock()

	r.logger.Debug("Threshold set", zap.String("Threshold", key), zap.Float64("Value", value))
}

// Classify compares a value against the category's warning/critical levels.
// An unknown category always classifies as OK.
func (r *Registry) Classify(category string, value float64) Status {
	r.lock.RLock()
	defer r.lock.RUnlock()

	critical, hasCritical := r.levels[category+"_critical"]
	warning, hasWarning := r.levels[category+"_warning"]

	if hasCritical && value >= critical {
		return StatusCritical
	}
	if hasWarning && value >= warning {
		return StatusWarning
	}
	return StatusOk
}
