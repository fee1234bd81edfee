package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"helipad-ng/internal/config"
)

// PreferencesPayloadIn is the strict POST schema.
//
// All fields are required (no partial updates) to avoid hidden defaults and
// prevent accidental schema drift.
type PreferencesPayloadIn struct {
	AltitudeFeet       *bool    `json:"altitude_feet"`
	SpeedKnots         *bool    `json:"speed_knots"`
	SinkRateWarningFpm *float64 `json:"sink_rate_warning_fpm"`
	NightThresholdLux  *float64 `json:"night_threshold_lux"`
	OATCelsius         *float64 `json:"oat_celsius"`
	FieldElevationM    *float64 `json:"field_elevation_m"`
	HardLandingExcessG *float64 `json:"hard_landing_excess_g"`
}

var preferencesPostKeys = []string{
	"altitude_feet",
	"speed_knots",
	"sink_rate_warning_fpm",
	"night_threshold_lux",
	"oat_celsius",
	"field_elevation_m",
	"hard_landing_excess_g",
}

func decodePreferencesPayloadInStrict(body []byte) (PreferencesPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	// First pass: stream tokens to enforce strict object rules and detect duplicate keys.
	allowed := make(map[string]struct{}, len(preferencesPostKeys))
	for _, k := range preferencesPostKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(preferencesPostKeys))

	tok, err := dec.Token()
	if err != nil {
		return PreferencesPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return PreferencesPayloadIn{}, errors.New("invalid json: expected object")
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return PreferencesPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return PreferencesPayloadIn{}, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return PreferencesPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return PreferencesPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return PreferencesPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return PreferencesPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return PreferencesPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return PreferencesPayloadIn{}, errors.New("invalid json: expected end of object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return PreferencesPayloadIn{}, errors.New("invalid json: trailing data")
	}

	for _, k := range preferencesPostKeys {
		if _, ok := seen[k]; !ok {
			return PreferencesPayloadIn{}, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	// Second pass: decode into the typed struct.
	var out PreferencesPayloadIn
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return PreferencesPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func (p PreferencesPayloadIn) preferences() config.Preferences {
	return config.Preferences{
		AltitudeFeet:       *p.AltitudeFeet,
		SpeedKnots:         *p.SpeedKnots,
		SinkRateWarningFpm: *p.SinkRateWarningFpm,
		NightThresholdLux:  *p.NightThresholdLux,
		OATCelsius:         *p.OATCelsius,
		FieldElevationM:    *p.FieldElevationM,
		HardLandingExcessG: *p.HardLandingExcessG,
	}
}

type PreferencesStore struct {
	// ConfigPath, when set, persists accepted preferences into the YAML config.
	ConfigPath string
	// Current returns the preferences in effect.
	Current func() config.Preferences
	// Apply is called after validation and before saving. If Apply returns
	// an error, nothing is saved.
	Apply func(p config.Preferences) error
}

func (s PreferencesStore) current() (config.Preferences, error) {
	if s.Current != nil {
		return s.Current(), nil
	}
	if strings.TrimSpace(s.ConfigPath) == "" {
		return config.DefaultPreferences(), nil
	}
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return config.Preferences{}, err
	}
	return cfg.Preferences, nil
}

func (s PreferencesStore) save(p config.Preferences) error {
	if strings.TrimSpace(s.ConfigPath) == "" {
		return nil
	}
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Preferences = p
	return config.Save(s.ConfigPath, cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func (s PreferencesStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			p, err := s.current()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, p)

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			in, err := decodePreferencesPayloadInStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			p := in.preferences()
			if err := config.ValidatePreferences(p); err != nil {
				http.Error(w, fmt.Sprintf("invalid preferences: %v", err), http.StatusBadRequest)
				return
			}

			old, err := s.current()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			if s.Apply != nil {
				if err := s.Apply(p); err != nil {
					http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
					return
				}
			}
			if err := s.save(p); err != nil {
				// Keep runtime consistent with disk.
				if s.Apply != nil {
					_ = s.Apply(old)
				}
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, p)

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
