//go:build windows

package platform

import "os"

// EnsureExecutable only checks existence; Windows has no execute bit.
func EnsureExecutable(path string) error {
	_, err := os.Stat(path)
	return err
}
