package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<kind>,<json>
//   where t_ns is nanoseconds since START (monotonic), kind names the sensor
//   and json is the raw sample.

type Record struct {
	At      time.Duration
	Kind    Kind
	Payload []byte
}

// IsStart reports whether r is a START marker.
func (r Record) IsStart() bool { return r.Kind == "" }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	// Satellite reports can be long.
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: invalid replay line (want t_ns,kind,json): %q", lineNo, line)
		}
		tsStr := strings.TrimSpace(parts[0])
		kind := Kind(strings.TrimSpace(parts[1]))
		payload := strings.TrimSpace(parts[2])

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid replay timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("line %d: invalid replay timestamp (negative): %d", lineNo, tsNs)
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("line %d: unknown sample kind %q", lineNo, kind)
		}
		if !json.Valid([]byte(payload)) {
			return nil, fmt.Errorf("line %d: invalid replay payload", lineNo)
		}

		recs = append(recs, Record{At: time.Duration(tsNs), Kind: kind, Payload: []byte(payload)})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Writer is safe for use from a single goroutine.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

// WriteSample appends one sample, timed relative to the writer's start.
func (ww *Writer) WriteSample(now time.Time, kind Kind, v any) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown sample kind %q", kind)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s sample: %w", kind, err)
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err = fmt.Fprintf(ww.w, "%d,%s,%s\n", d.Nanoseconds(), kind, b)
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// segmentGap separates the last sample of one segment or loop from the
// first of the next.
const segmentGap = time.Millisecond

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing.
//
// cb is invoked for every sample record with its offset from the current
// START origin plus the length of all earlier segments and loops, so
// offsets never go backwards. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(offset time.Duration, r Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	var base time.Duration
	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool
		var segBase = base

		for _, r := range records {
			if r.IsStart() {
				// A new segment continues after the previous one.
				if haveLast {
					segBase += lastAt + segmentGap
				}
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(segBase+at, r); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
		base = segBase + lastAt + segmentGap
	}
}
