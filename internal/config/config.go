package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Preferences Preferences       `yaml:"preferences"`
	GPS         GPSConfig         `yaml:"gps"`
	Board       BoardConfig       `yaml:"board"`
	Sim         SimConfig         `yaml:"sim"`
	Replay      ReplayConfig      `yaml:"replay"`
	Record      RecordConfig      `yaml:"record"`
	Web         WebConfig         `yaml:"web"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	UDP         UDPConfig         `yaml:"udp"`
	Annunciator AnnunciatorConfig `yaml:"annunciator"`
	FlightLog   FlightLogConfig   `yaml:"flightlog"`
}

// Preferences are the pilot-facing settings the estimators read at runtime.
type Preferences struct {
	AltitudeFeet       bool    `yaml:"altitude_feet" json:"altitude_feet"`
	SpeedKnots         bool    `yaml:"speed_knots" json:"speed_knots"`
	SinkRateWarningFpm float64 `yaml:"sink_rate_warning_fpm" json:"sink_rate_warning_fpm"`
	NightThresholdLux  float64 `yaml:"night_threshold_lux" json:"night_threshold_lux"`
	OATCelsius         float64 `yaml:"oat_celsius" json:"oat_celsius"`
	// FieldElevationM overrides GPS altitude as the QNH reference. 0 = unset.
	FieldElevationM    float64 `yaml:"field_elevation_m" json:"field_elevation_m"`
	HardLandingExcessG float64 `yaml:"hard_landing_excess_g" json:"hard_landing_excess_g"`
}

// DefaultPreferences matches a fresh install: feet, knots, 700 ft/min sink
// warning, 10 lux night threshold, ISA sea-level OAT.
func DefaultPreferences() Preferences {
	return Preferences{
		AltitudeFeet:       true,
		SpeedKnots:         true,
		SinkRateWarningFpm: 700,
		NightThresholdLux:  10,
		OATCelsius:         15,
		HardLandingExcessG: 2.5,
	}
}

type GPSConfig struct {
	Enable   bool   `yaml:"enable"`
	Source   string `yaml:"source"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	GPSDAddr string `yaml:"gpsd_addr"`
}

// BoardConfig selects the on-board I2C sensors (ICM-20948 IMU, BMP280
// barometer).
type BoardConfig struct {
	Enable       bool          `yaml:"enable"`
	I2CBus       int           `yaml:"i2c_bus"`
	IMUAddr      uint16        `yaml:"imu_addr"`
	BaroAddr     uint16        `yaml:"baro_addr"`
	IMURate      time.Duration `yaml:"imu_rate"`
	BaroRate     time.Duration `yaml:"baro_rate"`
	AccelRangeG  int           `yaml:"accel_range_g"`
	GyroRangeDPS int           `yaml:"gyro_range_dps"`
	BaroFilter   int           `yaml:"baro_filter"`
}

type SimConfig struct {
	Enable       bool          `yaml:"enable"`
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	AltM         float64       `yaml:"alt_m"`
	GroundKt     float64       `yaml:"ground_kt"`
	RadiusNm     float64       `yaml:"radius_nm"`
	Period       time.Duration `yaml:"period"`
	CrabDeg      float64       `yaml:"crab_deg"`
	// ScenarioPath, when set, replaces the orbit with a keyframe script.
	ScenarioPath string        `yaml:"scenario_path"`
	ScenarioLoop bool          `yaml:"scenario_loop"`
	SeaLevelHPa  float64       `yaml:"sea_level_hpa"`
	LightLux     float64       `yaml:"light_lux"`
	IMURate      time.Duration `yaml:"imu_rate"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	Interval time.Duration `yaml:"interval"`
}

type UDPConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type AnnunciatorConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	GPIO   int    `yaml:"gpio"`
	// ActiveLow inverts the output line.
	ActiveLow bool          `yaml:"active_low"`
	Hold      time.Duration `yaml:"hold"`
}

type FlightLogConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	ExportDir      string        `yaml:"export_dir"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (Config, error) {
	cfg := Config{Preferences: DefaultPreferences()}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, unknownFieldsError(err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// unknownFieldsError flattens yaml's per-line unknown-field errors.
func unknownFieldsError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	msgs := make([]string, 0, len(te.Errors))
	for _, e := range te.Errors {
		if !strings.Contains(e, "not found in type") {
			return err
		}
		if i := strings.Index(e, ": "); i >= 0 && strings.HasPrefix(e, "line ") {
			e = e[i+2:]
		}
		msgs = append(msgs, e)
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
}

// DefaultAndValidate fills zero values with defaults and rejects invalid
// combinations. It is idempotent.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := ValidatePreferences(cfg.Preferences); err != nil {
		return err
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	if cfg.GPS.Baud <= 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.GPSDAddr == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}
	if cfg.GPS.Enable {
		switch cfg.GPS.Source {
		case "nmea":
			if cfg.GPS.Device == "" {
				return fmt.Errorf("gps.device is required when gps.source is nmea")
			}
		case "gpsd":
		default:
			return fmt.Errorf("gps.source must be nmea or gpsd")
		}
	}

	if cfg.Board.I2CBus <= 0 {
		cfg.Board.I2CBus = 1
	}
	if cfg.Board.IMURate <= 0 {
		cfg.Board.IMURate = 20 * time.Millisecond
	}
	if cfg.Board.BaroRate <= 0 {
		cfg.Board.BaroRate = 100 * time.Millisecond
	}
	if cfg.Board.IMURate < time.Millisecond {
		return fmt.Errorf("board.imu_rate must be >= 1ms")
	}

	// Simulator defaults (safe even if disabled).
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 120 * time.Second
	}
	if cfg.Sim.RadiusNm <= 0 {
		cfg.Sim.RadiusNm = 0.5
	}
	if cfg.Sim.GroundKt <= 0 {
		cfg.Sim.GroundKt = 60
	}
	if cfg.Sim.AltM == 0 {
		cfg.Sim.AltM = 300
	}
	if cfg.Sim.IMURate <= 0 {
		cfg.Sim.IMURate = 20 * time.Millisecond
	}
	if cfg.Sim.LightLux < 0 {
		return fmt.Errorf("sim.light_lux must be >= 0")
	}

	if cfg.Replay.Enable {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}
	if cfg.Record.Enable && cfg.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	if cfg.Record.Enable && cfg.Replay.Enable {
		return fmt.Errorf("record and replay cannot both be enabled")
	}
	if cfg.Replay.Enable && cfg.Sim.Enable {
		return fmt.Errorf("replay and sim cannot both be enabled")
	}
	if cfg.Replay.Enable && cfg.GPS.Enable {
		return fmt.Errorf("replay and gps cannot both be enabled")
	}
	if cfg.Board.Enable && cfg.Sim.Enable {
		return fmt.Errorf("board and sim cannot both be enabled")
	}
	if cfg.Board.Enable && cfg.Replay.Enable {
		return fmt.Errorf("replay and board cannot both be enabled")
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "helipad"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "helipad-ng"
	}
	if cfg.MQTT.Interval <= 0 {
		cfg.MQTT.Interval = 1 * time.Second
	}
	if cfg.MQTT.Enable && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}

	if cfg.UDP.Interval <= 0 {
		cfg.UDP.Interval = 1 * time.Second
	}
	if cfg.UDP.Enable && cfg.UDP.Dest == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.Annunciator.Chip == "" {
		cfg.Annunciator.Chip = "gpiochip0"
	}
	if cfg.Annunciator.Hold <= 0 {
		cfg.Annunciator.Hold = 3 * time.Second
	}
	if cfg.Annunciator.Enable && cfg.Annunciator.GPIO <= 0 {
		return fmt.Errorf("annunciator.gpio is required when annunciator.enable is true")
	}

	if cfg.FlightLog.SampleInterval <= 0 {
		cfg.FlightLog.SampleInterval = 1 * time.Second
	}
	if cfg.FlightLog.ExportDir == "" {
		cfg.FlightLog.ExportDir = "."
	}
	return nil
}

// ValidatePreferences rejects values the estimators cannot use.
func ValidatePreferences(p Preferences) error {
	if p.SinkRateWarningFpm <= 0 {
		return fmt.Errorf("preferences.sink_rate_warning_fpm must be > 0")
	}
	if p.NightThresholdLux < 0 {
		return fmt.Errorf("preferences.night_threshold_lux must be >= 0")
	}
	if p.OATCelsius < -90 || p.OATCelsius > 60 {
		return fmt.Errorf("preferences.oat_celsius must be between -90 and 60")
	}
	if p.FieldElevationM < 0 {
		return fmt.Errorf("preferences.field_elevation_m must be >= 0")
	}
	if p.HardLandingExcessG <= 0 {
		return fmt.Errorf("preferences.hard_landing_excess_g must be > 0")
	}
	return nil
}

// Save writes cfg as YAML atomically, via a temp file in the same directory.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
