//go:build !linux && !darwin && !windows

package logger

// isTerminal reports whether the file descriptor is attached to a terminal.
// Conservative default for platforms without a detection shim.
func isTerminal(fd uintptr) bool {
	return false
}
