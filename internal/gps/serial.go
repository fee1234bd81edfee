package gps

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// openSerial opens an NMEA receiver as 8N1 at baud. Close unblocks a
// pending Read.
func openSerial(path string, baud int) (io.ReadCloser, error) {
	if baud <= 0 {
		return nil, fmt.Errorf("serial open %s: invalid baud %d", path, baud)
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", path, err)
	}
	return port, nil
}
