//go:build unix

package telemetry

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// fdWriter writes straight to a descriptor with write(2), retrying short and
// interrupted writes so a frame is never split between records.
type fdWriter struct {
	fd int
}

func (w *fdWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(w.fd, p[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

func (w *fdWriter) Close() error {
	return unix.Close(w.fd)
}

// OpenFD returns a frame sink on an inherited descriptor.
func OpenFD(fd int) (*FrameSink, error) {
	if fd < 0 {
		return nil, fmt.Errorf("telemetry: invalid descriptor %d", fd)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return nil, fmt.Errorf("telemetry: descriptor %d: %w", fd, err)
	}
	return NewFrameSink(&fdWriter{fd: fd}), nil
}
