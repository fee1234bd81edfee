package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"helipad-ng/internal/engine"
)

// Datagram is the wire format: one JSON object per packet, small enough to
// stay under a 1500-byte MTU.
type Datagram struct {
	Type string    `json:"type"` // always "helipad"
	At   time.Time `json:"at"`

	PitchDeg   float64 `json:"pitch_deg"`
	RollDeg    float64 `json:"roll_deg"`
	HeadingDeg float64 `json:"heading_deg"`

	LatDeg        float64 `json:"lat_deg"`
	LonDeg        float64 `json:"lon_deg"`
	HasFix        bool    `json:"has_fix"`
	GPSAltitudeFt float64 `json:"gps_alt_ft"`
	GroundSpeedKt float64 `json:"gs_kt"`
	TrackDeg      float64 `json:"track_deg"`

	PressureAltFt float64 `json:"pa_ft"`
	QNHHPa        float64 `json:"qnh_hpa"`
	VSIFpm        float64 `json:"vsi_fpm"`
	GLoad         float64 `json:"g"`

	SinkRateWarning bool `json:"sink_warning"`
	HardLanding     bool `json:"hard_landing"`
	NightMode       bool `json:"night"`
}

// round1 keeps datagrams short; one decimal is below sensor resolution.
func round1(v float64) float64 { return math.Round(v*10) / 10 }

func NewDatagram(s engine.Snapshot) Datagram {
	return Datagram{
		Type:            "helipad",
		At:              s.At,
		PitchDeg:        round1(s.Attitude.PitchDeg),
		RollDeg:         round1(s.Attitude.RollDeg),
		HeadingDeg:      round1(s.Attitude.HeadingDeg),
		LatDeg:          s.Position.LatDeg,
		LonDeg:          s.Position.LonDeg,
		HasFix:          s.Position.HasFix,
		GPSAltitudeFt:   round1(s.Position.AltitudeFt),
		GroundSpeedKt:   round1(s.Position.GroundSpeedKt),
		TrackDeg:        round1(s.Position.TrackDeg),
		PressureAltFt:   round1(s.Pressure.PressureAltitudeFt),
		QNHHPa:          round1(s.Pressure.QNHHPa),
		VSIFpm:          round1(s.VerticalSpeed.SmoothedFpm),
		GLoad:           math.Round(s.Motion.GLoad*100) / 100,
		SinkRateWarning: s.VerticalSpeed.SinkRateWarning,
		HardLanding:     s.Motion.HardLanding,
		NightMode:       s.Light.NightMode,
	}
}

type Instruments interface {
	Snapshot() engine.Snapshot
}

type OutputObserver interface {
	ObserveOutput(output string, err error)
}

type sender interface {
	Send(payload []byte) error
}

// Sender broadcasts one datagram per interval.
type Sender struct {
	inst     Instruments
	out      sender
	interval time.Duration
	obs      OutputObserver
}

func NewSender(inst Instruments, b *Broadcaster, interval time.Duration, obs OutputObserver) *Sender {
	return newSender(inst, b, interval, obs)
}

func newSender(inst Instruments, out sender, interval time.Duration, obs OutputObserver) *Sender {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sender{inst: inst, out: out, interval: interval, obs: obs}
}

func (s *Sender) SendOnce() error {
	b, err := json.Marshal(NewDatagram(s.inst.Snapshot()))
	if err != nil {
		return fmt.Errorf("udp: marshal: %w", err)
	}
	return s.out.Send(b)
}

// Run sends until ctx is done. Network errors are logged once per distinct
// error; the loop keeps going since the LAN may come and go.
func (s *Sender) Run(ctx context.Context) error {
	if s.inst == nil || s.out == nil {
		return errors.New("udp: instruments and broadcaster are required")
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err := s.SendOnce()
			if s.obs != nil {
				s.obs.ObserveOutput("udp", err)
			}
			switch {
			case err != nil && err.Error() != lastErr:
				log.Printf("udp send failed: %v", err)
				lastErr = err.Error()
			case err == nil && lastErr != "":
				log.Printf("udp send recovered")
				lastErr = ""
			}
		}
	}
}
