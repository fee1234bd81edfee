package icm20948

import (
	"errors"
	"math"
	"testing"
	"time"

	"helipad-ng/internal/units"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeI2C) wrote(reg, val byte) bool {
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	if _, err := newWithIO(f, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_RejectsUnsupportedRanges(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	for _, opt := range []Options{{AccelRangeG: 3}, {GyroRangeDPS: 300}, {RateHz: 5000}} {
		if _, err := newWithIO(f, opt); err == nil {
			t.Fatalf("opt=%+v expected error", opt)
		}
	}
}

func TestNew_WritesExpectedInitRegisters(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	if _, err := newWithIO(f, Options{AccelRangeG: 8, GyroRangeDPS: 500, RateHz: 125}); err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	if !f.wrote(regPwrMgmt1, bitReset) {
		t.Fatalf("expected reset write to PWR_MGMT_1")
	}
	if !f.wrote(regPwrMgmt1, 0x01) {
		t.Fatalf("expected wake write to PWR_MGMT_1")
	}
	if !f.wrote(regBankSel, bank2<<4) {
		t.Fatalf("expected bank2 select write")
	}
	if !f.wrote(regGyroSmplrt, 8) || !f.wrote(regAccelSmplrt2, 8) {
		t.Fatalf("expected rate divider 8 for 125Hz, writes=%v", f.writes)
	}
	if !f.wrote(regAccelConfig, 0x02<<1|0x01) {
		t.Fatalf("expected accel FS 8g, writes=%v", f.writes)
	}
	if !f.wrote(regGyroConfig, 0x01<<1|0x01) {
		t.Fatalf("expected gyro FS 500dps, writes=%v", f.writes)
	}
	if last := f.writes[len(f.writes)-1]; last.reg != regBankSel || last.val != 0 {
		t.Fatalf("last write=%+v want bank 0 select", last)
	}
}

func TestRead_ScalesToSIUnits(t *testing.T) {
	noSleep(t)
	oldNow := now
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return at }
	t.Cleanup(func() { now = oldNow })

	// 16384 counts is half of full scale: 2 g at 4 g, 125 °/s at 250 °/s.
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	f.regs[regAccelXoutH] = []byte{
		0x40, 0x00, // ax
		0x00, 0x00, // ay
		0xC0, 0x00, // az = -16384
		0x40, 0x00, // gx
		0x00, 0x00, // gy
		0xC0, 0x00, // gz = -16384
	}

	d, err := newWithIO(f, Options{})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	wantA := 2 * units.StandardGravity
	if math.Abs(s.Accel.X-wantA) > 1e-9 || math.Abs(s.Accel.Z+wantA) > 1e-9 || s.Accel.Y != 0 {
		t.Fatalf("accel=%+v want x=%v z=%v", s.Accel.Vector, wantA, -wantA)
	}
	wantG := 125 * math.Pi / 180
	if math.Abs(s.Gyro.X-wantG) > 1e-9 || math.Abs(s.Gyro.Z+wantG) > 1e-9 {
		t.Fatalf("gyro=%+v want x=%v z=%v", s.Gyro.Vector, wantG, -wantG)
	}
	if !s.Accel.At.Equal(at) || !s.Gyro.At.Equal(at) {
		t.Fatalf("at=%v/%v want %v", s.Accel.At, s.Gyro.At, at)
	}
}

func TestRead_PropagatesBusError(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	d, err := newWithIO(f, Options{})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	f.readErrFor = map[byte]error{regAccelXoutH: errors.New("nack")}
	if _, err := d.Read(); err == nil {
		t.Fatalf("expected error")
	}
}
