package util

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// CreateMutex guards against a second host instance via a named kernel
// mutex. The OS releases it when the process exits.
func CreateMutex(name string) error {
	namePtr, err := windows.UTF16PtrFromString("Global\\" + name)
	if err != nil {
		return fmt.Errorf("encode mutex name: %w", err)
	}

	if _, err := windows.CreateMutex(nil, false, namePtr); err != nil {
		if err == windows.ERROR_ALREADY_EXISTS {
			return fmt.Errorf("another instance of beam is running")
		}
		return fmt.Errorf("create mutex: %w", err)
	}

	return nil
}
