//go:build unix

package auditlog

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int) ([]byte, error) {
	b, err := unix.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	err = unix.Madvise(b, syscall.MADV_SEQUENTIAL)
	if err != nil && err != syscall.ENOSYS {
		// Ignore not implemented error in kernel because it still works.
		unix.Munmap(b)
		return nil, fmt.Errorf("madvise(MADV_SEQUENTIAL): %w", err)
	}
	return b, nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
