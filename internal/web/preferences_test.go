package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"helipad-ng/internal/config"
)

const validPrefsBody = `{"altitude_feet":false,"speed_knots":true,"sink_rate_warning_fpm":500,` +
	`"night_threshold_lux":20,"oat_celsius":-5,"field_elevation_m":1200,"hard_landing_excess_g":2}`

func TestDecodePreferencesPayloadInStrict(t *testing.T) {
	if _, err := decodePreferencesPayloadInStrict([]byte(validPrefsBody)); err != nil {
		t.Fatalf("valid body err=%v", err)
	}

	cases := []struct {
		name string
		body string
		want string
	}{
		{"not object", `[1]`, "expected object"},
		{"unknown", strings.Replace(validPrefsBody, `"speed_knots"`, `"speed_kmh"`, 1), "unknown key"},
		{"duplicate", strings.Replace(validPrefsBody, `}`, `,"oat_celsius":1}`, 1), "duplicate key"},
		{"null", strings.Replace(validPrefsBody, `"oat_celsius":-5`, `"oat_celsius":null`, 1), "cannot be null"},
		{"missing", `{"altitude_feet":true}`, "missing required key"},
		{"trailing", validPrefsBody + `{}`, "trailing data"},
		{"wrong type", strings.Replace(validPrefsBody, `"altitude_feet":false`, `"altitude_feet":"no"`, 1), "invalid json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodePreferencesPayloadInStrict([]byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want substring %q", err, tc.want)
			}
		})
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helipad.yaml")
	if err := os.WriteFile(path, []byte("web:\n  listen: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func postPrefs(t *testing.T, url, ct, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/preferences", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestAPIPreferences_PostAppliesAndSaves(t *testing.T) {
	path := writeTestConfig(t)
	var applied []config.Preferences
	store := PreferencesStore{
		ConfigPath: path,
		Apply: func(p config.Preferences) error {
			applied = append(applied, p)
			return nil
		},
	}
	ts := httptest.NewServer(Handler(Deps{Preferences: store}))
	defer ts.Close()

	resp := postPrefs(t, ts.URL, "application/json", validPrefsBody)
	var got config.Preferences
	_ = json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got.AltitudeFeet || got.SinkRateWarningFpm != 500 || got.FieldElevationM != 1200 {
		t.Fatalf("response=%+v", got)
	}
	if len(applied) != 1 || applied[0] != got {
		t.Fatalf("applied=%+v", applied)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Preferences != got {
		t.Fatalf("saved=%+v want %+v", cfg.Preferences, got)
	}
	if cfg.Web.Listen != ":9090" {
		t.Fatalf("web.listen=%q, other sections must survive", cfg.Web.Listen)
	}
}

func TestAPIPreferences_PostRejects(t *testing.T) {
	path := writeTestConfig(t)
	applied := 0
	store := PreferencesStore{
		ConfigPath: path,
		Apply: func(config.Preferences) error {
			applied++
			return nil
		},
	}
	ts := httptest.NewServer(Handler(Deps{Preferences: store}))
	defer ts.Close()

	cases := []struct {
		name string
		ct   string
		body string
		want int
	}{
		{"content type", "text/plain", validPrefsBody, http.StatusUnsupportedMediaType},
		{"missing key", "application/json", `{"altitude_feet":true}`, http.StatusBadRequest},
		{"invalid value", "application/json", strings.Replace(validPrefsBody, `"sink_rate_warning_fpm":500`, `"sink_rate_warning_fpm":0`, 1), http.StatusBadRequest},
		{"oat out of range", "application/json", strings.Replace(validPrefsBody, `"oat_celsius":-5`, `"oat_celsius":75`, 1), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postPrefs(t, ts.URL, tc.ct, tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status=%d want %d", resp.StatusCode, tc.want)
			}
		})
	}
	if applied != 0 {
		t.Fatalf("applied=%d want 0", applied)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Preferences != config.DefaultPreferences() {
		t.Fatalf("preferences changed on disk: %+v", cfg.Preferences)
	}
}

func TestAPIPreferences_ApplyErrorSkipsSave(t *testing.T) {
	path := writeTestConfig(t)
	store := PreferencesStore{
		ConfigPath: path,
		Apply:      func(config.Preferences) error { return errors.New("engine stopped") },
	}
	ts := httptest.NewServer(Handler(Deps{Preferences: store}))
	defer ts.Close()

	resp := postPrefs(t, ts.URL, "application/json", validPrefsBody)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Preferences != config.DefaultPreferences() {
		t.Fatalf("preferences saved after apply error: %+v", cfg.Preferences)
	}
}

func TestAPIPreferences_GETUsesCurrent(t *testing.T) {
	want := config.DefaultPreferences()
	want.SpeedKnots = false
	ts := httptest.NewServer(Handler(Deps{Preferences: PreferencesStore{Current: func() config.Preferences { return want }}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/preferences")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got config.Preferences
	_ = json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got != want {
		t.Fatalf("got=%+v want %+v", got, want)
	}
}
