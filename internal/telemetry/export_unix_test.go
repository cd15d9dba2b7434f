//go:build unix

package telemetry

import "golang.org/x/sys/unix"

func dupFD(fd int) (int, error) {
	return unix.Dup(fd)
}
