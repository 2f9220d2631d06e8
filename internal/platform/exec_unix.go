//go:build !windows

package platform

import "os"

// EnsureExecutable sets the owner-execute bit on path when it is missing.
func EnsureExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := fi.Mode().Perm()
	if mode&0o100 != 0 {
		return nil
	}
	return os.Chmod(path, mode|0o755)
}
