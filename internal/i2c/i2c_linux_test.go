//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func devNullBus(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return &Bus{f: f, path: "/dev/null"}
}

func TestDevTx_InvalidAddr(t *testing.T) {
	b := devNullBus(t)
	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestDevTx_EmptyIsNoop(t *testing.T) {
	d := devNullBus(t).Dev(0x68)
	n, err := d.tx(nil, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
}

func TestDevTx_ClosedBus(t *testing.T) {
	b := devNullBus(t)
	d := b.Dev(0x77)
	b.f = nil
	if err := d.WriteReg(0xE0, 0xB6); err == nil || !strings.Contains(err.Error(), "bus closed") {
		t.Fatalf("err=%v want bus closed", err)
	}
}

func TestPath(t *testing.T) {
	if got := Path(1); got != "/dev/i2c-1" {
		t.Fatalf("Path(1)=%q", got)
	}
}
