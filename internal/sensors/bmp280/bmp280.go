// Package bmp280 reads compensated pressure and temperature from a Bosch
// BMP280 (or the pressure half of a BME280) over I2C.
package bmp280

import (
	"encoding/binary"
	"fmt"
	"time"

	"helipad-ng/internal/i2c"
	"helipad-ng/internal/sensor"
)

var (
	sleep = time.Sleep
	now   = time.Now
)

const (
	addrDefault = 0x77

	regID        = 0xD0
	chipIDBMP280 = 0x58
	chipIDBME280 = 0x60

	regReset = 0xE0
	resetCmd = 0xB6

	regCalib00 = 0x88
	calibLen   = 24

	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regPressMsb = 0xF7
)

// Options configures the on-chip IIR filter. Filter is the coefficient
// (0, 2, 4, 8 or 16).
type Options struct {
	Filter int
}

func filterCode(coef int) (byte, bool) {
	switch coef {
	case 0:
		return 0, true
	case 2:
		return 1, true
	case 4:
		return 2, true
	case 8:
		return 3, true
	case 16:
		return 4, true
	}
	return 0, false
}

// Reading is one compensated measurement.
type Reading struct {
	TempC    float64
	Pressure sensor.Pressure
}

type Device struct {
	dev    regIO
	chipID byte

	digT1 uint16
	digT2 int16
	digT3 int16
	digP1 uint16
	digP2 int16
	digP3 int16
	digP4 int16
	digP5 int16
	digP6 int16
	digP7 int16
	digP8 int16
	digP9 int16

	tFine float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, opt Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	return newWithIO(dev, opt)
}

func newWithIO(dev regIO, opt Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	filter, ok := filterCode(opt.Filter)
	if !ok {
		return nil, fmt.Errorf("bmp280: unsupported filter coefficient %d", opt.Filter)
	}
	d := &Device{dev: dev}

	id, err := d.dev.ReadRegU8(regID)
	if err != nil {
		return nil, fmt.Errorf("bmp280: id read failed: %w", err)
	}
	if id != chipIDBMP280 && id != chipIDBME280 {
		return nil, fmt.Errorf("bmp280: chip id=0x%02X want 0x%02X or 0x%02X", id, chipIDBMP280, chipIDBME280)
	}
	d.chipID = id

	// NVM coefficients are copied after reset; reading too early returns
	// zeros and a compensated pressure of 0.
	_ = d.dev.WriteReg(regReset, resetCmd)
	sleep(5 * time.Millisecond)

	var calibErr error
	for i := 0; i < 3; i++ {
		calibErr = d.readCalibration()
		if calibErr != nil {
			sleep(5 * time.Millisecond)
			continue
		}
		if d.digT1 != 0 && d.digP1 != 0 {
			calibErr = nil
			break
		}
		calibErr = fmt.Errorf("bmp280: calibration invalid (digT1=%d digP1=%d)", d.digT1, d.digP1)
		sleep(5 * time.Millisecond)
	}
	if calibErr != nil {
		return nil, calibErr
	}

	// config: standby 0.5ms, IIR filter in bits [4:2].
	_ = d.dev.WriteReg(regConfig, filter<<2)

	// ctrl_meas: osrs_t x2, osrs_p x16, normal mode.
	ctrl := byte(0x02<<5) | byte(0x05<<2) | 0x03
	if err := d.dev.WriteReg(regCtrlMeas, ctrl); err != nil {
		return nil, fmt.Errorf("bmp280: ctrl_meas write failed: %w", err)
	}
	return d, nil
}

// ChipID returns 0x58 for a BMP280 and 0x60 for a BME280.
func (d *Device) ChipID() byte { return d.chipID }

func (d *Device) readCalibration() error {
	buf := make([]byte, calibLen)
	if err := d.dev.ReadReg(regCalib00, buf); err != nil {
		return fmt.Errorf("bmp280: read calib failed: %w", err)
	}
	le := binary.LittleEndian
	d.digT1 = le.Uint16(buf[0:2])
	d.digT2 = int16(le.Uint16(buf[2:4]))
	d.digT3 = int16(le.Uint16(buf[4:6]))
	d.digP1 = le.Uint16(buf[6:8])
	d.digP2 = int16(le.Uint16(buf[8:10]))
	d.digP3 = int16(le.Uint16(buf[10:12]))
	d.digP4 = int16(le.Uint16(buf[12:14]))
	d.digP5 = int16(le.Uint16(buf[14:16]))
	d.digP6 = int16(le.Uint16(buf[16:18]))
	d.digP7 = int16(le.Uint16(buf[18:20]))
	d.digP8 = int16(le.Uint16(buf[20:22]))
	d.digP9 = int16(le.Uint16(buf[22:24]))
	return nil
}

// Read returns the compensated temperature and station pressure. A
// pressure of 0 hPa means the compensation divided by zero.
func (d *Device) Read() (Reading, error) {
	var buf [6]byte
	if err := d.dev.ReadReg(regPressMsb, buf[:]); err != nil {
		return Reading{}, fmt.Errorf("bmp280: read data failed: %w", err)
	}

	adcP := int32(buf[0])<<12 | int32(buf[1])<<4 | int32(buf[2])>>4
	adcT := int32(buf[3])<<12 | int32(buf[4])<<4 | int32(buf[5])>>4

	d.tFine = d.compensateTemp(adcT)
	pa := d.compensatePress(adcP)

	return Reading{
		TempC:    d.tFine / 5120.0,
		Pressure: sensor.Pressure{HPa: pa / 100.0, At: now().UTC()},
	}, nil
}

func (d *Device) compensateTemp(adcT int32) float64 {
	var1 := (float64(adcT)/16384.0 - float64(d.digT1)/1024.0) * float64(d.digT2)
	var2 := float64(adcT)/131072.0 - float64(d.digT1)/8192.0
	var2 = var2 * var2 * float64(d.digT3)
	return var1 + var2
}

// compensatePress is the datasheet floating-point algorithm; result in Pa.
func (d *Device) compensatePress(adcP int32) float64 {
	var1 := d.tFine/2.0 - 64000.0
	var2 := var1 * var1 * float64(d.digP6) / 32768.0
	var2 = var2 + var1*float64(d.digP5)*2.0
	var2 = var2/4.0 + float64(d.digP4)*65536.0
	var1 = (float64(d.digP3)*var1*var1/524288.0 + float64(d.digP2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(d.digP1)
	if var1 == 0 {
		return 0
	}
	p := 1048576.0 - float64(adcP)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(d.digP9) * p * p / 2147483648.0
	var2 = p * float64(d.digP8) / 32768.0
	return p + (var1+var2+float64(d.digP7))/16.0
}
