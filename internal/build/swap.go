package build

import (
	"fmt"
	"os"
)

// renameSwap exchanges two directories with a pair of renames. On success
// a holds what b held and b holds what a held. If the second rename fails
// the first is rolled back.
func renameSwap(a, b string) error {
	tmp := a + ".old"
	if err := os.Rename(b, tmp); err != nil {
		return err
	}
	if err := os.Rename(a, b); err != nil {
		if rerr := os.Rename(tmp, b); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}
	return os.Rename(tmp, a)
}
