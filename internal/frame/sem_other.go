//go:build !unix

package frame

import (
	"fmt"
	"time"
)

func createSemaphore(name string) (semaphore, error) {
	return nil, fmt.Errorf("frame: SysV semaphores are only supported on unix platforms")
}

func attachSemaphore(name string) (semaphore, error) {
	return nil, fmt.Errorf("frame: SysV semaphores are only supported on unix platforms")
}

func unlinkSemaphore(name string) error {
	return fmt.Errorf("frame: SysV semaphores are only supported on unix platforms")
}

var _ = time.Second
