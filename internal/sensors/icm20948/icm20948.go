// Package icm20948 reads acceleration and angular rate from an ICM-20948
// IMU over I2C.
package icm20948

import (
	"fmt"
	"math"
	"time"

	"helipad-ng/internal/i2c"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

var (
	sleep = time.Sleep
	now   = time.Now
)

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D // accel+gyro block, 12 bytes

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig   = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	baseRateHz = 1125
)

// Options selects full-scale ranges and output rate. Zero fields take
// 4 g, 250 °/s and 50 Hz.
type Options struct {
	AccelRangeG  int // 2, 4, 8 or 16
	GyroRangeDPS int // 250, 500, 1000 or 2000
	RateHz       int
}

func (o Options) withDefaults() Options {
	if o.AccelRangeG == 0 {
		o.AccelRangeG = 4
	}
	if o.GyroRangeDPS == 0 {
		o.GyroRangeDPS = 250
	}
	if o.RateHz <= 0 {
		o.RateHz = 50
	}
	return o
}

// fs returns the ACCEL_FS_SEL / GYRO_FS_SEL code for a range.
func fs(v int, ranges [4]int) (byte, bool) {
	for i, r := range ranges {
		if r == v {
			return byte(i), true
		}
	}
	return 0, false
}

// Sample is one IMU reading in SI units.
type Sample struct {
	Accel sensor.Acceleration
	Gyro  sensor.AngularRate
}

type Device struct {
	dev regIO
	opt Options

	curBank byte
	// per-LSB scales in m/s² and rad/s.
	scaleAccel float64
	scaleGyro  float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, opt Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev, opt)
}

func newWithIO(dev regIO, opt Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	opt = opt.withDefaults()
	accelFS, ok := fs(opt.AccelRangeG, [4]int{2, 4, 8, 16})
	if !ok {
		return nil, fmt.Errorf("icm20948: unsupported accel range %dg", opt.AccelRangeG)
	}
	gyroFS, ok := fs(opt.GyroRangeDPS, [4]int{250, 500, 1000, 2000})
	if !ok {
		return nil, fmt.Errorf("icm20948: unsupported gyro range %ddps", opt.GyroRangeDPS)
	}
	if opt.RateHz > baseRateHz {
		return nil, fmt.Errorf("icm20948: rate %dHz above %dHz", opt.RateHz, baseRateHz)
	}

	d := &Device{dev: dev, opt: opt, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(accelFS, gyroFS); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init(accelFS, gyroFS byte) error {
	if err := d.setBank(0); err != nil {
		return err
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset puts the bank select back to 0.
	d.curBank = 0

	// Wake, auto-select the PLL clock.
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// rate = 1125/(div+1)
	div := byte(baseRateHz/d.opt.RateHz - 1)
	_ = d.dev.WriteReg(regGyroSmplrt, div)
	_ = d.dev.WriteReg(regAccelSmplrt2, div)

	// FS_SEL lives in bits [2:1]; bit 0 enables the DLPF.
	if err := d.dev.WriteReg(regGyroConfig, gyroFS<<1|0x01); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, accelFS<<1|0x01); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = float64(d.opt.AccelRangeG) * units.StandardGravity / 32768.0
	d.scaleGyro = float64(d.opt.GyroRangeDPS) * math.Pi / 180.0 / 32768.0
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	word := func(i int) float64 { return float64(int16(buf[i])<<8 | int16(buf[i+1])) }

	at := now().UTC()
	return Sample{
		Accel: sensor.Acceleration{
			Vector: sensor.Vector{X: word(0) * d.scaleAccel, Y: word(2) * d.scaleAccel, Z: word(4) * d.scaleAccel},
			At:     at,
		},
		Gyro: sensor.AngularRate{
			Vector: sensor.Vector{X: word(6) * d.scaleGyro, Y: word(8) * d.scaleGyro, Z: word(10) * d.scaleGyro},
			At:     at,
		},
	}, nil
}
