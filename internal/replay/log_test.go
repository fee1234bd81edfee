package replay

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0,pressure,{"HPa":1013.25}
10, accel ,{"X":0,"Y":0,"Z":9.81}
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].IsStart() {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if recs[1].At != 0 || recs[1].Kind != KindPressure {
		t.Fatalf("record 1=%+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond || recs[2].Kind != KindAccel {
		t.Fatalf("record 2=%+v", recs[2])
	}
	if string(recs[2].Payload) != `{"X":0,"Y":0,"Z":9.81}` {
		t.Fatalf("payload=%s", recs[2].Payload)
	}
}

func TestReaderReadAll_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing fields": "not-a-valid-line\n",
		"bad timestamp":  "x,accel,{}\n",
		"negative":       "-1,accel,{}\n",
		"unknown kind":   "0,sonar,{}\n",
		"bad json":       "0,accel,{oops\n",
	}
	for name, in := range cases {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 1 * time.Second},
		{At: 1 * time.Second, Kind: KindAccel, Payload: []byte(`1`)},
		{At: 1*time.Second + 100*time.Nanosecond, Kind: KindAccel, Payload: []byte(`2`)},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Nanosecond, Kind: KindAccel, Payload: []byte(`3`)},
	}

	var got []string
	var offsets []time.Duration
	err := Play(recs, 1.0, false, fs, func(off time.Duration, r Record) error {
		got = append(got, string(r.Payload))
		offsets = append(offsets, off)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Fatalf("payloads=%v", got)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
	want := []time.Duration{0, 100, 100 + segmentGap + 50}
	if !reflect.DeepEqual(offsets, want) {
		t.Fatalf("offsets=%v want %v", offsets, want)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Kind: KindGyro, Payload: []byte(`{}`)},
		{At: 100 * time.Nanosecond, Kind: KindGyro, Payload: []byte(`{}`)},
	}
	if err := Play(recs, 2.0, false, fs, func(time.Duration, Record) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_LoopOffsetsKeepIncreasing(t *testing.T) {
	recs := []Record{
		{At: 0, Kind: KindGyro, Payload: []byte(`{}`)},
		{At: time.Second, Kind: KindGyro, Payload: []byte(`{}`)},
	}
	var offsets []time.Duration
	stop := errStop{}
	err := Play(recs, 1, true, &fakeSleeper{}, func(off time.Duration, r Record) error {
		offsets = append(offsets, off)
		if len(offsets) == 4 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Fatalf("err=%v", err)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("offsets not increasing: %v", offsets)
		}
	}
}

type errStop struct{}

func (errStop) Error() string { return "stop" }

func TestPlay_InvalidSpeed(t *testing.T) {
	recs := []Record{{At: 0, Kind: KindGyro, Payload: []byte(`{}`)}}
	if err := Play(recs, 0, false, nil, func(time.Duration, Record) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteSample(time.Unix(0, 20), KindLight, map[string]float64{"Lux": 5}); err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 30), Kind("bogus"), nil); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 40), KindLight, nil); err == nil {
		t.Fatalf("expected error after close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,light,{\"Lux\":5}\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}
