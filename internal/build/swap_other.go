//go:build !linux

package build

func exchangeDirs(a, b string) error {
	return renameSwap(a, b)
}
