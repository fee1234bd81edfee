// Package board publishes samples from the I2C sensors on the device: an
// ICM-20948 IMU (acceleration, angular rate) and a BMP280 barometer.
package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"helipad-ng/internal/i2c"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/sensors/bmp280"
	"helipad-ng/internal/sensors/icm20948"
	"helipad-ng/internal/stream"
)

const (
	baroReinitAfter = 10
	baroReinitGap   = 2 * time.Second
)

type Config struct {
	Bus      int
	IMUAddr  uint16
	BaroAddr uint16

	IMURate  time.Duration // default 20ms
	BaroRate time.Duration // default 100ms

	AccelRangeG  int
	GyroRangeDPS int
	BaroFilter   int
}

func (c Config) withDefaults() Config {
	if c.Bus == 0 {
		c.Bus = 1
	}
	if c.IMUAddr == 0 {
		c.IMUAddr = icm20948.DefaultAddress()
	}
	if c.BaroAddr == 0 {
		c.BaroAddr = bmp280.DefaultAddress()
	}
	if c.IMURate <= 0 {
		c.IMURate = 20 * time.Millisecond
	}
	if c.BaroRate <= 0 {
		c.BaroRate = 100 * time.Millisecond
	}
	return c
}

type IMU interface {
	Read() (icm20948.Sample, error)
}

type Barometer interface {
	Read() (bmp280.Reading, error)
}

// Status is reported on /api/status.
type Status struct {
	Bus          string  `json:"bus"`
	IMUDetected  bool    `json:"imu_detected"`
	BaroDetected bool    `json:"baro_detected"`
	IMUSamples   uint64  `json:"imu_samples"`
	BaroSamples  uint64  `json:"baro_samples"`
	TempC        float64 `json:"temp_c"`
	LastError    string  `json:"last_error,omitempty"`
}

type Source struct {
	cfg Config

	bus        *i2c.Bus
	imu        IMU
	baro       Barometer
	reopenBaro func() (Barometer, error)

	Accel    *stream.Hub[sensor.Acceleration]
	Gyro     *stream.Hub[sensor.AngularRate]
	Pressure *stream.Hub[sensor.Pressure]

	runner stream.Runner

	mu     sync.Mutex
	status Status
}

// Open checks the bus for both devices. A missing device leaves its
// streams out of Sources; finding neither is an error.
func Open(cfg Config) (*Source, error) {
	cfg = cfg.withDefaults()
	path := i2c.Path(cfg.Bus)
	bus, err := i2c.Open(path)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}

	var imu IMU
	dev, err := icm20948.New(bus.Dev(cfg.IMUAddr), icm20948.Options{
		AccelRangeG:  cfg.AccelRangeG,
		GyroRangeDPS: cfg.GyroRangeDPS,
		RateHz:       int(time.Second / cfg.IMURate),
	})
	if err != nil {
		log.Printf("board imu not detected addr=0x%02X: %v", cfg.IMUAddr, err)
	} else {
		imu = dev
	}

	openBaro := func() (Barometer, error) {
		return bmp280.New(bus.Dev(cfg.BaroAddr), bmp280.Options{Filter: cfg.BaroFilter})
	}
	baro, err := openBaro()
	if err != nil {
		log.Printf("board baro not detected addr=0x%02X: %v", cfg.BaroAddr, err)
		baro = nil
	}

	if imu == nil && baro == nil {
		_ = bus.Close()
		return nil, fmt.Errorf("board: no sensors found on %s", path)
	}
	s := newSource(cfg, imu, baro, openBaro)
	s.bus = bus
	s.status.Bus = path
	return s, nil
}

func newSource(cfg Config, imu IMU, baro Barometer, reopenBaro func() (Barometer, error)) *Source {
	return &Source{
		cfg:        cfg.withDefaults(),
		imu:        imu,
		baro:       baro,
		reopenBaro: reopenBaro,
		Accel:      stream.NewHub[sensor.Acceleration](),
		Gyro:       stream.NewHub[sensor.AngularRate](),
		Pressure:   stream.NewHub[sensor.Pressure](),
		status:     Status{IMUDetected: imu != nil, BaroDetected: baro != nil},
	}
}

// Sources exposes only the streams whose device answered on the bus.
func (s *Source) Sources() sensor.Sources {
	var out sensor.Sources
	st := s.Status()
	if st.IMUDetected {
		out.Accel = s.Accel
		out.Gyro = s.Gyro
	}
	if st.BaroDetected {
		out.Pressure = s.Pressure
	}
	return out
}

func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Source) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	return nil
}

// Close stops polling and releases the bus.
func (s *Source) Close() {
	s.runner.Stop()
	if s.bus != nil {
		_ = s.bus.Close()
	}
}

func (s *Source) setError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Source) run(ctx context.Context) {
	log.Printf("board enabled bus=%s imu=%t baro=%t imu_rate=%s baro_rate=%s",
		s.status.Bus, s.imu != nil, s.baro != nil, s.cfg.IMURate, s.cfg.BaroRate)

	var imuC, baroC <-chan time.Time
	if s.imu != nil {
		t := time.NewTicker(s.cfg.IMURate)
		defer t.Stop()
		imuC = t.C
	}
	if s.baro != nil {
		t := time.NewTicker(s.cfg.BaroRate)
		defer t.Stop()
		baroC = t.C
	}

	var failures int
	var lastReinit time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-imuC:
			smp, err := s.imu.Read()
			if err != nil {
				s.setError(err)
				continue
			}
			// Gyro first so accelerometer-driven consumers see it latched.
			s.Gyro.Publish(smp.Gyro)
			s.Accel.Publish(smp.Accel)
			s.mu.Lock()
			s.status.IMUSamples++
			s.mu.Unlock()
		case now := <-baroC:
			r, err := s.baro.Read()
			if err == nil && !r.Pressure.Valid() {
				err = errors.New("board: baro pressure invalid")
			}
			if err != nil {
				failures++
				s.setError(err)
				if failures >= baroReinitAfter && now.Sub(lastReinit) >= baroReinitGap && s.reopenBaro != nil {
					lastReinit = now
					if b, reErr := s.reopenBaro(); reErr == nil {
						s.baro = b
						failures = 0
					} else {
						s.setError(fmt.Errorf("board: baro reinit: %w", reErr))
					}
				}
				continue
			}
			failures = 0
			s.Pressure.Publish(r.Pressure)
			s.mu.Lock()
			s.status.BaroSamples++
			s.status.TempC = r.TempC
			s.mu.Unlock()
		}
	}
}
