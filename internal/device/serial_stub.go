//go:build !linux

package device

import (
	"fmt"
	"os"
)

// Open opens the control serial port in raw mode at the given baud rate.
func Open(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("control serial not supported on this platform")
}
