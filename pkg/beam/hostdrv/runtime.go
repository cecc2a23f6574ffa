package hostdrv

import (
	"strings"

	"github.com/mitchellh/go-ps"
)

// RuntimeRunning reports whether any of the named VR runtime processes
// (e.g. vrserver, monado-service) is currently running. An enumeration
// failure reads as "running" so a flaky process API never tears a
// session down on its own.
func RuntimeRunning(names ...string) bool {
	if len(names) == 0 {
		return true
	}

	processes, err := ps.Processes()
	if err != nil {
		return true
	}

	for _, process := range processes {
		executable := process.Executable()
		for _, name := range names {
			if strings.EqualFold(executable, name) {
				return true
			}
		}
	}
	return false
}
