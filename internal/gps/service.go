package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Config controls the GPS reader.
//
// Device may be empty to auto-detect /dev/ttyACM* and /dev/ttyUSB*.
// Baud must be a supported rate by the platform implementation.
type Config struct {
	Enable bool

	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	// When empty, defaults to "nmea".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Device is the serial device path for Source=="nmea".
	Device string
	Baud   int
}

// Status describes the reader, not the fix.
type Status struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	SatellitesInView int `json:"satellites_in_view"`

	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config

	fixes *stream.Hub[sensor.Fix]
	sats  *stream.Hub[sensor.SatelliteStatus]

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Status

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) *Service {
	s := &Service{
		cfg:   cfg,
		fixes: stream.NewHub[sensor.Fix](),
		sats:  stream.NewHub[sensor.SatelliteStatus](),
	}
	s.last.Store(Status{Enabled: cfg.Enable, Source: sourceName(cfg.Source), GPSDAddr: strings.TrimSpace(cfg.GPSDAddr), Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func sourceName(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return "nmea"
	}
	return src
}

// Fixes is the position fix stream.
func (s *Service) Fixes() *stream.Hub[sensor.Fix] { return s.fixes }

// Satellites is the satellite status stream.
func (s *Service) Satellites() *stream.Hub[sensor.SatelliteStatus] { return s.sats }

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	if sourceName(s.cfg.Source) == "gpsd" {
		return s.startGPSDLocked(ctx)
	}
	return s.startNMEALocked(ctx)
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}

	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	f, err := openSerial(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return fmt.Errorf("gps open %s: %w", device, err)
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.last.Store(Status{Enabled: true, Source: "nmea", Device: device, Baud: baud})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()

		log.Printf("gps enabled device=%s baud=%d", device, baud)
		err := s.consumeNMEA(childCtx, f)
		if err != nil && childCtx.Err() == nil {
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
		}
	}()
	return nil
}

// consumeNMEA reads sentences until r fails or ctx ends. Fix timestamps use
// the local clock at receipt.
func (s *Service) consumeNMEA(ctx context.Context, r io.Reader) error {
	reader := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	reader.Buffer(make([]byte, 0, 256), 4096)

	var st nmeaState
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !reader.Scan() {
			if err := reader.Err(); err != nil {
				return err
			}
			return io.EOF
		}

		line := strings.TrimSpace(reader.Text())
		// Some receivers include non-NMEA chatter.
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, perr := parseNMEASentence(line)
		if perr != nil {
			// Avoid spamming on bad noise; just keep the last error.
			s.setError(perr.Error())
			continue
		}

		now := time.Now().UTC()
		upd := st.apply(now, sent)
		if upd.fix {
			s.publishFix(st.fix())
		}
		if upd.sats {
			s.publishSats(st.satellites(now))
		}
	}
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.last.Store(Status{Enabled: true, Source: "gpsd", GPSDAddr: addr, Device: "gpsd"})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Printf("gps enabled source=gpsd addr=%s", addr)
		st := newGPSDState()
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second

		for childCtx.Err() == nil {
			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < maxBackoff {
					backoff = min(backoff*2, maxBackoff)
				}
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Swap the closer so Close() can interrupt an active connection.
			s.closer = conn
			s.mu.Unlock()

			if err := gpsdWatch(conn); err != nil {
				s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
			} else if err := s.consumeGPSD(childCtx, conn, st); err != nil && childCtx.Err() == nil {
				s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
			}
			_ = conn.Close()
		}
	}()
	return nil
}

func (s *Service) consumeGPSD(ctx context.Context, r io.Reader, st *gpsdState) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		upd, perr := st.applyLine(time.Now().UTC(), line)
		if perr != nil {
			s.setError(perr.Error())
			continue
		}
		if upd.fix {
			s.publishFix(st.fix())
		}
		if upd.sats {
			s.publishSats(st.sats)
		}
	}
}

func (s *Service) publishFix(f sensor.Fix) {
	s.fixes.Publish(f)
	s.mu.Lock()
	cur := s.Status()
	cur.Valid = f.Valid
	if !f.At.IsZero() {
		cur.LastFixUTC = f.At.UTC().Format(time.RFC3339Nano)
	}
	s.last.Store(cur)
	s.mu.Unlock()
}

func (s *Service) publishSats(st sensor.SatelliteStatus) {
	s.sats.Publish(st)
	s.mu.Lock()
	cur := s.Status()
	cur.SatellitesInView = len(st.Satellites)
	s.last.Store(cur)
	s.mu.Unlock()
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Status() Status {
	if s == nil {
		return Status{}
	}
	v := s.last.Load()
	if v == nil {
		return Status{}
	}
	return v.(Status)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Status()
	cur.LastError = msg
	// Transient parse issues do not flip validity.
	s.last.Store(cur)
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
