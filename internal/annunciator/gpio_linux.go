//go:build linux

package annunciator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// OpenLine requests gpio as an output on the GPIO character device. The
// line is looked up by its header name (GPIO17) on chip first, then on
// every other chip; when no chip names it, gpio is used as an offset on
// chip.
func OpenLine(chip string, gpio int, activeLow bool) (Line, error) {
	if gpio <= 0 {
		return nil, fmt.Errorf("annunciator: invalid gpio %d", gpio)
	}
	if !strings.HasPrefix(chip, "/") {
		chip = filepath.Join("/dev", chip)
	}
	lineName := fmt.Sprintf("GPIO%d", gpio)

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("helipad-ng-annunciator")}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	candidates := []string{chip}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := filepath.Join("/dev", e.Name())
		if strings.HasPrefix(e.Name(), "gpiochip") && name != chip {
			candidates = append(candidates, name)
		}
	}
	for _, path := range candidates {
		c, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := c.FindLine(lineName)
		if err != nil {
			_ = c.Close()
			continue
		}
		l, err := c.RequestLine(offset, opts...)
		if err != nil {
			_ = c.Close()
			continue
		}
		return &gpiodLine{chip: c, line: l}, nil
	}

	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("annunciator: open %s: %w", chip, err)
	}
	l, err := c.RequestLine(gpio, opts...)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("annunciator: request %s offset %d: %w", chip, gpio, err)
	}
	return &gpiodLine{chip: c, line: l}, nil
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g.line == nil {
		return fmt.Errorf("annunciator: line closed")
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Close() error {
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
