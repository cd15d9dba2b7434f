//go:build !unix

package telemetry

import "errors"

// OpenFD is only available on unix platforms.
func OpenFD(fd int) (*FrameSink, error) {
	return nil, errors.New("telemetry: descriptor sinks are not supported on this platform")
}
