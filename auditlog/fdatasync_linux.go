package auditlog

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync skips the metadata flush that f.Sync does. Errors are not
// recoverable: the kernel may have dropped the dirty pages already.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
