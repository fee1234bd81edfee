//go:build !linux

package annunciator

import "fmt"

func OpenLine(chip string, gpio int, activeLow bool) (Line, error) {
	return nil, fmt.Errorf("annunciator: gpio unsupported on this platform")
}
