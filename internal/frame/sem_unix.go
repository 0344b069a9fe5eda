//go:build unix

package frame

import (
	"fmt"
	"hash/fnv"
	"time"

	"golang.org/x/sys/unix"
)

// semKey derives a deterministic SysV IPC key from a semaphore name.
// SysV semaphore sets are keyed by integer, not string, so barrier
// names are hashed the same way on every creator/attacher, matching
// the deterministic, process-unique token derivation style used
// elsewhere in the corpus for naming shared resources.
func semKey(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	// Clear the top bit: some platforms treat negative keys specially.
	return int(h.Sum32() &^ (1 << 31))
}

type sysvSemaphore struct {
	id int
}

func createSemaphore(name string) (semaphore, error) {
	key := semKey(name)
	id, err := unix.Semget(key, 1, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		return nil, fmt.Errorf("semget(%s): %w", name, err)
	}
	return &sysvSemaphore{id: id}, nil
}

func attachSemaphore(name string) (semaphore, error) {
	key := semKey(name)
	id, err := unix.Semget(key, 1, 0o600)
	if err != nil {
		return nil, fmt.Errorf("semget(%s): %w", name, err)
	}
	return &sysvSemaphore{id: id}, nil
}

func unlinkSemaphore(name string) error {
	key := semKey(name)
	id, err := unix.Semget(key, 1, 0o600)
	if err != nil {
		// Already gone.
		return nil
	}
	_, err = unix.SemctlInt(id, 0, unix.IPC_RMID, 0)
	return err
}

func (s *sysvSemaphore) Release(count int) error {
	sops := make([]unix.Sembuf, count)
	for i := range sops {
		sops[i] = unix.Sembuf{SemNum: 0, SemOp: 1, SemFlg: 0}
	}
	return unix.Semop(s.id, sops)
}

func (s *sysvSemaphore) Acquire(timeout time.Duration) error {
	sops := []unix.Sembuf{{SemNum: 0, SemOp: -1, SemFlg: 0}}

	if timeout <= 0 {
		return unix.Semtimedop(s.id, sops, nil)
	}

	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	return unix.Semtimedop(s.id, sops, &ts)
}

func (s *sysvSemaphore) Close() error {
	// SysV semaphore sets have no per-process handle to release; the
	// set lives in the kernel until explicitly removed via Destroy.
	return nil
}
