package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"helipad-ng/internal/ahrs"
	"helipad-ng/internal/config"
	"helipad-ng/internal/engine"
	"helipad-ng/internal/flightlog"
	"helipad-ng/internal/gps"
)

type fakeInstruments struct {
	snap engine.Snapshot
}

func (f fakeInstruments) Snapshot() engine.Snapshot { return f.snap }

func testSnapshot() engine.Snapshot {
	return engine.Snapshot{
		At:       time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Attitude: ahrs.Sample{PitchDeg: 2.5, RollDeg: -1, HeadingDeg: 270, HeadingValid: true, Direction: "W"},
		Display:  engine.Display{AltitudeUnit: "ft", SpeedUnit: "kt"},
	}
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetStatic("sim", map[string]any{"scenario": false})
	st.SetGPS(func() gps.Status { return gps.Status{Enabled: true, Source: "gpsd"} })
	st.SetComponent("annunciator", func() any { return map[string]bool{"asserted": true} })

	ts := httptest.NewServer(Handler(Deps{Instruments: fakeInstruments{testSnapshot()}, Status: st}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "helipad-ng" || snap.Mode != "sim" {
		t.Fatalf("service=%q mode=%q", snap.Service, snap.Mode)
	}
	if snap.GPS == nil || snap.GPS.Source != "gpsd" {
		t.Fatalf("gps=%+v", snap.GPS)
	}
	if snap.Engine.Attitude.HeadingDeg != 270 || snap.Engine.Attitude.Direction != "W" {
		t.Fatalf("attitude=%+v", snap.Engine.Attitude)
	}
	if c, ok := snap.Components["annunciator"].(map[string]any); !ok || c["asserted"] != true {
		t.Fatalf("components=%v", snap.Components)
	}
	if snap.Build.GoVersion == "" {
		t.Fatalf("missing go version")
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{Instruments: fakeInstruments{testSnapshot()}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "heading=270 W") {
		t.Fatalf("body=%s", b)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", resp2.StatusCode)
	}
}

func TestAPIStream_PushesSnapshots(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{Instruments: fakeInstruments{testSnapshot()}, StreamInterval: 10 * time.Millisecond}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got engine.Snapshot
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got.Attitude.PitchDeg != 2.5 {
			t.Fatalf("attitude=%+v", got.Attitude)
		}
	}
}

func TestAPIStream_RejectsBadInterval(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream?interval_ms=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

type fakeAHRS struct {
	levelErr error
	levels   int
	zeroed   int
}

func (f *fakeAHRS) SetLevel() error {
	f.levels++
	return f.levelErr
}

func (f *fakeAHRS) ZeroDrift(ctx context.Context) error {
	f.zeroed++
	return ctx.Err()
}

func TestAPIAHRS(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	resp, err := http.Post(ts.URL+"/api/ahrs/level", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	ts.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("without ahrs status=%d", resp.StatusCode)
	}

	ctl := &fakeAHRS{}
	ts = httptest.NewServer(Handler(Deps{AHRS: ctl}))
	defer ts.Close()
	for _, path := range []string{"/api/ahrs/level", "/api/ahrs/zero-drift"} {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", path, resp.StatusCode)
		}
	}
	if ctl.levels != 1 || ctl.zeroed != 1 {
		t.Fatalf("levels=%d zeroed=%d", ctl.levels, ctl.zeroed)
	}

	ctl.levelErr = errors.New("not enough samples")
	resp, err = http.Post(ts.URL+"/api/ahrs/level", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("level error status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/ahrs/level")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET level status=%d", resp.StatusCode)
	}
}

func TestAPIFlights_Lifecycle(t *testing.T) {
	store := flightlog.NewStore()
	exportDir := filepath.Join(t.TempDir(), "out")
	ts := httptest.NewServer(Handler(Deps{Flights: store, ExportDir: exportDir}))
	defer ts.Close()

	post := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	resp := post("/api/flights/stop")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop without session status=%d", resp.StatusCode)
	}

	resp = post("/api/flights/start")
	var sess flightlog.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	resp.Body.Close()
	if !sess.Active || sess.ID != 1 {
		t.Fatalf("session=%+v", sess)
	}
	if err := store.Record(100, 50, 180, -200, 0.2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	resp = post("/api/flights/start")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start status=%d", resp.StatusCode)
	}

	resp = post("/api/flights/stop")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status=%d", resp.StatusCode)
	}

	csvResp, err := http.Get(ts.URL + "/api/flights/1/csv")
	if err != nil {
		t.Fatalf("GET csv: %v", err)
	}
	body, _ := io.ReadAll(csvResp.Body)
	csvResp.Body.Close()
	if csvResp.StatusCode != http.StatusOK {
		t.Fatalf("csv status=%d body=%s", csvResp.StatusCode, body)
	}
	if !strings.HasPrefix(string(body), "timestamp_ms,altitude_m,ground_speed_kt,heading_deg,vsi_ft_min,g_load\n") {
		t.Fatalf("csv=%q", body)
	}
	if cd := csvResp.Header.Get("Content-Disposition"); !strings.Contains(cd, "flight_1.csv") {
		t.Fatalf("content-disposition=%q", cd)
	}

	resp = post("/api/flights/1/export")
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if out["path"] != filepath.Join(exportDir, "flight_1.csv") {
		t.Fatalf("export=%v", out)
	}
	if _, err := os.Stat(out["path"]); err != nil {
		t.Fatalf("export file: %v", err)
	}

	missing, err := http.Get(ts.URL + "/api/flights/9/csv")
	if err != nil {
		t.Fatalf("GET missing csv: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing csv status=%d", missing.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/api/flights")
	if err != nil {
		t.Fatalf("GET flights: %v", err)
	}
	var list FlightsResponse
	_ = json.NewDecoder(listResp.Body).Decode(&list)
	listResp.Body.Close()
	if list.Active != nil || len(list.Sessions) != 1 || list.Sessions[0].Points != 1 {
		t.Fatalf("flights=%+v", list)
	}
}

func TestAPILogs(t *testing.T) {
	logs := NewLogBuffer(10)
	l := log.New(logs, "", 0)
	l.Printf("gps enabled device=/dev/ttyUSB0")
	l.Printf("engine started")
	l.Printf("gps read failed: eof")

	ts := httptest.NewServer(Handler(Deps{Logs: logs}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?match=gps")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	var out LogsResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if len(out.Lines) != 2 || out.Lines[0] != "gps enabled device=/dev/ttyUSB0" {
		t.Fatalf("lines=%q", out.Lines)
	}

	resp, err = http.Get(ts.URL + "/api/logs?tail=1&format=text")
	if err != nil {
		t.Fatalf("GET logs text: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(b) != "gps read failed: eof\n" {
		t.Fatalf("text=%q", b)
	}
}

func TestAPIMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	ts := httptest.NewServer(Handler(Deps{Metrics: metrics}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(b, []byte("ok\n")) {
		t.Fatalf("body=%q", b)
	}
}

func TestAPIPreferencesGETDefaults(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/preferences")
	if err != nil {
		t.Fatalf("GET preferences: %v", err)
	}
	var p config.Preferences
	_ = json.NewDecoder(resp.Body).Decode(&p)
	resp.Body.Close()
	if p != config.DefaultPreferences() {
		t.Fatalf("preferences=%+v", p)
	}
}
