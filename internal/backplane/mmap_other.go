//go:build !unix

package backplane

import "fmt"

func createMapping(name string, size int) (mmapping, error) {
	return nil, fmt.Errorf("backplane: shared memory segments are only supported on unix platforms")
}

func attachMapping(name string) (mmapping, error) {
	return nil, fmt.Errorf("backplane: shared memory segments are only supported on unix platforms")
}
