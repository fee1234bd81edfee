package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"helipad-ng/internal/config"
	"helipad-ng/internal/engine"
	"helipad-ng/internal/sim"
)

func simConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("sim:\n  enable: true\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return cfg
}

func TestBuildInputs_Sim(t *testing.T) {
	in, err := buildInputs(simConfig(t))
	if err != nil {
		t.Fatalf("buildInputs() error: %v", err)
	}
	defer in.Close()

	if in.mode != "sim" {
		t.Fatalf("mode=%q want sim", in.mode)
	}
	av := in.sources.Availability()
	if !av.Accelerometer || !av.Gyroscope || !av.Barometer || !av.GNSS {
		t.Fatalf("availability=%+v want imu, baro and gnss", av)
	}
	if av.Light {
		t.Fatalf("light available without sim.light_lux")
	}
	if len(in.starts) != 1 || len(in.closes) != 1 {
		t.Fatalf("starts=%d closes=%d want 1", len(in.starts), len(in.closes))
	}
}

func TestBuildInputs_ScenarioLoadError(t *testing.T) {
	cfg := simConfig(t)
	cfg.Sim.ScenarioPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := buildInputs(cfg); err == nil {
		t.Fatalf("expected error for missing scenario")
	}
}

func TestSimModel_ScenarioLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	script := "version: 1\nkeyframes:\n" +
		"  - t: 0s\n    lat_deg: 45\n    lon_deg: -122\n    alt_m: 300\n" +
		"  - t: 10s\n    lat_deg: 45\n    lon_deg: -122\n    alt_m: 300\n"
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	m, err := simModel(config.SimConfig{ScenarioPath: path, ScenarioLoop: true})
	if err != nil {
		t.Fatalf("simModel() error: %v", err)
	}
	sc, ok := m.(*sim.Scenario)
	if !ok {
		t.Fatalf("model=%T want *sim.Scenario", m)
	}
	if !sc.Loop {
		t.Fatalf("Loop=false want true")
	}
}

func TestBuildInputs_ReplayMissingFile(t *testing.T) {
	cfg, err := config.Parse([]byte(fmt.Sprintf("replay:\n  enable: true\n  path: %s\n", filepath.Join(t.TempDir(), "none.log"))))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if _, err := buildInputs(cfg); err == nil {
		t.Fatalf("expected error for missing replay file")
	}
}

func TestBuildInputs_BoardFailureKeepsRunning(t *testing.T) {
	cfg, err := config.Parse([]byte("board:\n  enable: true\n  i2c_bus: 97\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	in, err := buildInputs(cfg)
	if err != nil {
		t.Fatalf("buildInputs() error: %v", err)
	}
	defer in.Close()
	if in.board != nil {
		t.Fatalf("board opened on a missing bus")
	}
	if in.mode != "live" {
		t.Fatalf("mode=%q want live", in.mode)
	}
	if av := in.sources.Availability(); av.Accelerometer || av.Barometer {
		t.Fatalf("availability=%+v want none", av)
	}
}

func TestStatusInfo(t *testing.T) {
	cfg := simConfig(t)
	cfg.MQTT = config.MQTTConfig{Enable: true, Broker: "tcp://broker:1883", Topic: "helipad"}
	in, err := buildInputs(cfg)
	if err != nil {
		t.Fatalf("buildInputs() error: %v", err)
	}
	defer in.Close()
	eng := engine.New(in.sources, engine.Options{})

	info := statusInfo(cfg, eng)
	if _, ok := info["sim"]; !ok {
		t.Fatalf("info=%v missing sim", info)
	}
	if _, ok := info["replay"]; ok {
		t.Fatalf("info=%v has replay", info)
	}
	mq, ok := info["mqtt"].(map[string]any)
	if !ok || mq["broker"] != "tcp://broker:1883" {
		t.Fatalf("mqtt=%v", info["mqtt"])
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(fmt.Errorf("serve: %w", context.Canceled)); err != nil {
		t.Fatalf("err=%v want nil", err)
	}
	boom := errors.New("boom")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestRun_SimShutdown(t *testing.T) {
	cfg := simConfig(t)
	cfg.Web.Enable = false

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg, "", nil); err != nil {
		t.Fatalf("run() error: %v", err)
	}
}
