package host

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// MachineId returns a stable identifier for this host. When the platform
// machine id is unreadable, the hostname serves as a constant fallback so
// reports are still attributable.
func MachineId() (string, error) {
	id, err := machineid.ID()
	if err == nil {
		return id, nil
	}

	hostname, hostnameErr := os.Hostname()
	if hostnameErr != nil {
		return "", err
	}
	return hostname, nil
}
