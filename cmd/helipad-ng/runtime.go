package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"helipad-ng/internal/annunciator"
	"helipad-ng/internal/board"
	"helipad-ng/internal/config"
	"helipad-ng/internal/engine"
	"helipad-ng/internal/flightlog"
	"helipad-ng/internal/gps"
	"helipad-ng/internal/metrics"
	"helipad-ng/internal/publish"
	"helipad-ng/internal/replay"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/sim"
	"helipad-ng/internal/udp"
	"helipad-ng/internal/web"
)

// inputs is the set of raw sample producers selected by the config.
type inputs struct {
	mode    string
	sources sensor.Sources

	starts []func(ctx context.Context) error
	closes []func()

	gps   *gps.Service
	board *board.Source
}

func (in *inputs) add(start func(ctx context.Context) error, close func()) {
	in.starts = append(in.starts, start)
	in.closes = append(in.closes, close)
}

func (in *inputs) Close() {
	for i := len(in.closes) - 1; i >= 0; i-- {
		in.closes[i]()
	}
}

func simModel(c config.SimConfig) (sim.Model, error) {
	if c.ScenarioPath == "" {
		return sim.Flight{
			CenterLatDeg: c.CenterLatDeg,
			CenterLonDeg: c.CenterLonDeg,
			AltM:         c.AltM,
			GroundKt:     c.GroundKt,
			RadiusNm:     c.RadiusNm,
			Period:       c.Period,
			CrabDeg:      c.CrabDeg,
		}, nil
	}
	script, err := sim.LoadScenarioScript(c.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("scenario load: %w", err)
	}
	sc, err := sim.NewScenario(script)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", c.ScenarioPath, err)
	}
	sc.Loop = c.ScenarioLoop
	return sc, nil
}

// buildInputs opens the configured producers. Replay excludes every live
// input; board, gps and sim overlay each other in that order. Hardware
// that fails to open is logged and left out.
func buildInputs(cfg config.Config) (*inputs, error) {
	in := &inputs{mode: "live"}

	if cfg.Replay.Enable {
		p, err := replay.Open(cfg.Replay.Path, cfg.Replay.Speed, cfg.Replay.Loop)
		if err != nil {
			return nil, err
		}
		in.mode = "replay"
		in.sources = p.Sources()
		in.add(p.Start, func() {
			p.Close()
			if err := p.Err(); err != nil {
				log.Printf("replay stopped: %v", err)
			}
		})
		return in, nil
	}

	if cfg.Sim.Enable {
		model, err := simModel(cfg.Sim)
		if err != nil {
			return nil, err
		}
		src := sim.NewSource(model, sim.Environment{
			SeaLevelHPa: cfg.Sim.SeaLevelHPa,
			LightLux:    cfg.Sim.LightLux,
		}, sim.Rates{IMU: cfg.Sim.IMURate})
		in.mode = "sim"
		in.sources = src.Sources()
		in.add(src.Start, src.Close)
	}

	if cfg.Board.Enable {
		b, err := board.Open(board.Config{
			Bus:          cfg.Board.I2CBus,
			IMUAddr:      cfg.Board.IMUAddr,
			BaroAddr:     cfg.Board.BaroAddr,
			IMURate:      cfg.Board.IMURate,
			BaroRate:     cfg.Board.BaroRate,
			AccelRangeG:  cfg.Board.AccelRangeG,
			GyroRangeDPS: cfg.Board.GyroRangeDPS,
			BaroFilter:   cfg.Board.BaroFilter,
		})
		if err != nil {
			// Keep running without board sensors; the web UI shows them absent.
			log.Printf("board init failed: %v", err)
		} else {
			in.board = b
			in.sources = in.sources.Overlay(b.Sources())
			in.add(b.Start, b.Close)
		}
	}

	if cfg.GPS.Enable {
		svc := gps.New(gps.Config{
			Enable:   cfg.GPS.Enable,
			Source:   cfg.GPS.Source,
			GPSDAddr: cfg.GPS.GPSDAddr,
			Device:   cfg.GPS.Device,
			Baud:     cfg.GPS.Baud,
		})
		in.gps = svc
		in.sources = in.sources.Overlay(sensor.Sources{Fixes: svc.Fixes(), Satellites: svc.Satellites()})
		in.add(func(ctx context.Context) error {
			if err := svc.Start(ctx); err != nil {
				// The reader retries on its own; status shows the error.
				log.Printf("gps init failed: %v", err)
			}
			return nil
		}, svc.Close)
	}
	return in, nil
}

func statusInfo(cfg config.Config, eng *engine.Engine) map[string]any {
	info := map[string]any{
		"sensors": eng.Availability(),
	}
	if cfg.Replay.Enable {
		info["replay"] = map[string]any{"path": cfg.Replay.Path, "speed": cfg.Replay.Speed, "loop": cfg.Replay.Loop}
	}
	if cfg.Sim.Enable {
		info["sim"] = map[string]any{"scenario": cfg.Sim.ScenarioPath, "period": cfg.Sim.Period.String()}
	}
	if cfg.Record.Enable {
		info["record"] = cfg.Record.Path
	}
	if cfg.MQTT.Enable {
		info["mqtt"] = map[string]any{"broker": cfg.MQTT.Broker, "topic": cfg.MQTT.Topic}
	}
	if cfg.UDP.Enable {
		info["udp"] = cfg.UDP.Dest
	}
	return info
}

func watchHubs(m *metrics.Collector, h engine.Hubs) {
	m.WatchHub("attitude", h.Attitude.Stats)
	m.WatchHub("position", h.Position.Stats)
	m.WatchHub("gnss_health", h.GnssHealth.Stats)
	m.WatchHub("pressure", h.Pressure.Stats)
	m.WatchHub("vsi", h.VerticalSpeed.Stats)
	m.WatchHub("motion", h.Motion.Stats)
	m.WatchHub("light", h.Light.Stats)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func run(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) error {
	m, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	in, err := buildInputs(cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	prefs := cfg.Preferences
	eng := engine.New(in.sources, engine.Options{Preferences: &prefs, Observer: m})
	watchHubs(m, eng.Hubs())
	if err := eng.Start(ctx); err != nil {
		return err
	}
	m.SetRunning(true)
	defer func() {
		eng.Stop()
		m.SetRunning(false)
	}()
	log.Printf("engine started mode=%s sensors=%+v", in.mode, eng.Availability())

	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return err
		}
		rec := replay.NewRecorder(w, in.sources)
		if err := rec.Start(ctx); err != nil {
			_ = w.Close()
			return err
		}
		log.Printf("recording samples path=%s", cfg.Record.Path)
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("record close failed: %v", err)
			}
		}()
	}

	for _, start := range in.starts {
		if err := start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	flights := flightlog.NewStore()

	g.Go(func() error {
		return eng.RunLogger(gctx, cfg.FlightLog.SampleInterval, flights)
	})

	if cfg.Web.Enable {
		status := web.NewStatus()
		status.SetStatic(in.mode, statusInfo(cfg, eng))
		if in.gps != nil {
			status.SetGPS(in.gps.Status)
		}
		if in.board != nil {
			status.SetComponent("board", func() any { return in.board.Status() })
		}

		deps := web.Deps{
			Instruments: eng,
			AHRS:        eng,
			Status:      status,
			Preferences: web.PreferencesStore{
				ConfigPath: configPath,
				Current:    eng.Preferences,
				Apply:      eng.SetPreferences,
			},
			Flights:   flights,
			ExportDir: filepath.Clean(cfg.FlightLog.ExportDir),
			Logs:      logs,
			Metrics:   m.Handler(),
		}

		if cfg.Annunciator.Enable {
			if err := startAnnunciator(gctx, g, cfg.Annunciator, eng, m, status); err != nil {
				log.Printf("annunciator init failed: %v", err)
			}
		}

		log.Printf("web listening addr=%s", cfg.Web.Listen)
		g.Go(func() error {
			return ignoreCanceled(web.Serve(gctx, cfg.Web.Listen, deps))
		})
	} else if cfg.Annunciator.Enable {
		if err := startAnnunciator(gctx, g, cfg.Annunciator, eng, m, nil); err != nil {
			log.Printf("annunciator init failed: %v", err)
		}
	}

	if cfg.MQTT.Enable {
		pcfg := publish.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Interval: cfg.MQTT.Interval,
		}
		client, err := publish.Dial(pcfg)
		if err != nil {
			return err
		}
		defer client.Close()
		p := publish.NewPublisher(eng, client, pcfg, m)
		g.Go(func() error { return p.Run(gctx) })
	}

	if cfg.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			return fmt.Errorf("udp broadcaster init failed: %w", err)
		}
		defer b.Close()
		log.Printf("udp dest=%s interval=%s", cfg.UDP.Dest, cfg.UDP.Interval)
		s := udp.NewSender(eng, b, cfg.UDP.Interval, m)
		g.Go(func() error { return s.Run(gctx) })
	}

	return ignoreCanceled(g.Wait())
}

func startAnnunciator(ctx context.Context, g *errgroup.Group, c config.AnnunciatorConfig, eng *engine.Engine, m *metrics.Collector, status *web.Status) error {
	line, err := annunciator.OpenLine(c.Chip, c.GPIO, c.ActiveLow)
	if err != nil {
		return err
	}
	a := annunciator.New(line, c.Hold, m)
	if status != nil {
		status.SetComponent("annunciator", func() any { return a.Status() })
	}
	hubs := eng.Hubs()
	log.Printf("annunciator enabled chip=%s gpio=%d hold=%s", c.Chip, c.GPIO, c.Hold)
	g.Go(func() error { return a.Run(ctx, hubs.VerticalSpeed, hubs.Motion) })
	return nil
}
