package control

import (
	"time"

	"github.com/pkg/errors"
)

const minUpdateInterval = time.Second

type PlaneConfig struct {
	// UpdateInterval is the period between process table refreshes.
	UpdateInterval time.Duration

	// ApiListenAddress is the local address the query API binds to.
	// Empty disables the API server.
	ApiListenAddress string
}

func (pc *PlaneConfig) Valid() (bool, error) {
	if pc.UpdateInterval <= 0 {
		return false, errors.New("uninitialized update interval")
	} else if pc.UpdateInterval < minUpdateInterval {
		return false, errors.Errorf("below minimum allowed update interval (min: '%s')",
			minUpdateInterval.String())
	}

	return true, nil
}
