//go:build !unix

package auditlog

import (
	"io"
	"os"
)

// Segments are read into memory where mmap is not available.
func mmap(f *os.File, size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, err
	}
	return b, nil
}

func munmap([]byte) error {
	return nil
}
