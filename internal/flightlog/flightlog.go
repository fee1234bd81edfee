// Package flightlog keeps flight sessions and their 1 Hz data points, and
// exports a session as CSV.
package flightlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{"timestamp_ms", "altitude_m", "ground_speed_kt", "heading_deg", "vsi_ft_min", "g_load"}

var (
	ErrNoActiveSession = errors.New("flightlog: no active session")
	ErrSessionActive   = errors.New("flightlog: a session is already active")
	ErrUnknownSession  = errors.New("flightlog: unknown session")
)

// Recorder receives one row per logging tick.
type Recorder interface {
	Record(altitudeM, groundSpeedKt, headingDeg, verticalSpeedFpm, gLoad float64) error
}

type Session struct {
	ID     int64      `json:"id"`
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
	Active bool       `json:"active"`
	Points int        `json:"points"`
}

type Point struct {
	At               time.Time `json:"at"`
	AltitudeM        float64   `json:"altitude_m"`
	GroundSpeedKt    float64   `json:"ground_speed_kt"`
	HeadingDeg       float64   `json:"heading_deg"`
	VerticalSpeedFpm float64   `json:"vsi_ft_min"`
	GLoad            float64   `json:"g_load"`
}

type session struct {
	Session
	points []Point
}

// Store is an in-memory session log. It is safe for concurrent use.
type Store struct {
	// Now defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*session
	active   int64
}

func NewStore() *Store {
	return &Store{Now: time.Now, nextID: 1, sessions: make(map[int64]*session)}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// StartSession opens a new session. Only one session is active at a time.
func (s *Store) StartSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != 0 {
		return Session{}, ErrSessionActive
	}
	id := s.nextID
	s.nextID++
	ss := &session{Session: Session{ID: id, Start: s.now(), Active: true}}
	s.sessions[id] = ss
	s.active = id
	return ss.Session, nil
}

func (s *Store) StopSession(id int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	if ss.Active {
		end := s.now()
		ss.End = &end
		ss.Active = false
		if s.active == id {
			s.active = 0
		}
	}
	return ss.snapshot(), nil
}

func (ss *session) snapshot() Session {
	out := ss.Session
	out.Points = len(ss.points)
	return out
}

// ActiveSession returns the open session, if any.
func (s *Store) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return Session{}, false
	}
	return s.sessions[s.active].snapshot(), true
}

// Sessions returns all sessions, newest first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		out = append(out, ss.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.After(out[j].Start)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Record appends a point to the active session.
func (s *Store) Record(altitudeM, groundSpeedKt, headingDeg, verticalSpeedFpm, gLoad float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return ErrNoActiveSession
	}
	ss := s.sessions[s.active]
	ss.points = append(ss.points, Point{
		At:               s.now(),
		AltitudeM:        altitudeM,
		GroundSpeedKt:    groundSpeedKt,
		HeadingDeg:       headingDeg,
		VerticalSpeedFpm: verticalSpeedFpm,
		GLoad:            gLoad,
	})
	return nil
}

// Points returns a session's points in ascending timestamp order.
func (s *Store) Points(id int64) ([]Point, error) {
	s.mu.Lock()
	ss, ok := s.sessions[id]
	var out []Point
	if ok {
		out = append([]Point(nil), ss.points...)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// WriteCSV writes the session as CSV to w.
func (s *Store) WriteCSV(id int64, w io.Writer) error {
	points, err := s.Points(id)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			strconv.FormatInt(p.At.UnixMilli(), 10),
			formatFloat(p.AltitudeM),
			formatFloat(p.GroundSpeedKt),
			formatFloat(p.HeadingDeg),
			formatFloat(p.VerticalSpeedFpm),
			formatFloat(p.GLoad),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName is the export file name for a session.
func FileName(id int64) string { return fmt.Sprintf("flight_%d.csv", id) }

// ExportFile writes the session to dir/flight_<id>.csv and returns the path.
func (s *Store) ExportFile(id int64, dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(id))
	tmp, err := os.CreateTemp(dir, ".flight-*.csv")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := s.WriteCSV(id, tmp); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", err
	}
	return path, nil
}
