//go:build linux

package build

import (
	"errors"

	"golang.org/x/sys/unix"
)

// exchangeDirs swaps a and b in one renameat2(RENAME_EXCHANGE) call, so
// readers of b see either the old tree or the new one. Filesystems without
// exchange support get the two-rename swap.
func exchangeDirs(a, b string) error {
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE)
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) {
		return renameSwap(a, b)
	}
	return err
}
