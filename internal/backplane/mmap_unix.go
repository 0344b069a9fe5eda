//go:build unix

package backplane

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// shmPath maps a POSIX shared-memory name (conventionally given in
// leading-slash form, e.g. "/hermes_sim") onto the tmpfs-backed
// /dev/shm filesystem, matching how glibc's shm_open implements named
// segments on Linux.
func shmPath(name string) string {
	return "/dev/shm/" + strings.TrimPrefix(name, "/")
}

// unixMapping is the real mmap-backed implementation of mmapping.
type unixMapping struct {
	path string
	fd   int
	data []byte
}

func (m *unixMapping) Bytes() []byte { return m.data }

func (m *unixMapping) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if m.fd >= 0 {
		if cerr := unix.Close(m.fd); err == nil {
			err = cerr
		}
		m.fd = -1
	}
	return err
}

func (m *unixMapping) Unlink() error {
	return unix.Unlink(m.path)
}

func createMapping(name string, size int) (mmapping, error) {
	path := shmPath(name)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("ftruncate %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &unixMapping{path: path, fd: fd, data: data}, nil
}

func attachMapping(name string) (mmapping, error) {
	path := shmPath(name)

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fstat %s: %w", path, err)
	}

	size := int(st.Size)
	if size < HeaderSize {
		unix.Close(fd)
		return nil, fmt.Errorf("segment %s too small (%d bytes)", path, size)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &unixMapping{path: path, fd: fd, data: data}, nil
}
