package web

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"helipad-ng/internal/engine"
	"helipad-ng/internal/flightlog"
)

// Instruments is the read side of the engine.
type Instruments interface {
	Snapshot() engine.Snapshot
}

// AHRSController optionally exposes calibration actions.
// Implementations should be safe to call concurrently.
type AHRSController interface {
	SetLevel() error
	ZeroDrift(ctx context.Context) error
}

type Deps struct {
	Instruments Instruments
	AHRS        AHRSController
	Status      *Status
	Preferences PreferencesStore
	Flights     *flightlog.Store
	ExportDir   string
	Logs        *LogBuffer
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// StreamInterval is the default websocket push period (200ms).
	StreamInterval time.Duration
}

func (d Deps) snapshot() engine.Snapshot {
	if d.Instruments == nil {
		return engine.Snapshot{At: time.Now().UTC()}
	}
	return d.Instruments.Snapshot()
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, d.Status.Snapshot(time.Now().UTC(), d.snapshot()))
	})

	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, d.snapshot())
	})

	mux.Handle("/api/stream", streamHandler(d))

	mux.HandleFunc("/api/ahrs/level", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if d.AHRS == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		if err := d.AHRS.SetLevel(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	mux.HandleFunc("/api/ahrs/zero-drift", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if d.AHRS == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := d.AHRS.ZeroDrift(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	mux.Handle("/api/preferences", d.Preferences.Handler())

	if d.Flights != nil {
		registerFlights(mux, d.Flights, d.ExportDir)
	}
	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s := d.snapshot()
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Helipad-NG</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>Helipad-NG</h1>")
		_, _ = fmt.Fprintf(w, "<p>Live data: <a href=\"/api/status\">/api/status</a>, websocket <code>/api/stream</code>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>%s</pre>", html.EscapeString(fmt.Sprintf(
			"pitch=%.1f roll=%.1f heading=%.0f %s\nalt=%.0f %s gs=%.0f %s\nvsi=%.0f ft/min gnss=%s night=%t",
			s.Attitude.PitchDeg, s.Attitude.RollDeg, s.Attitude.HeadingDeg, s.Attitude.Direction,
			s.Display.GPSAltitude, s.Display.AltitudeUnit, s.Display.GroundSpeed, s.Display.SpeedUnit,
			s.VerticalSpeed.SmoothedFpm, s.GnssHealth.Quality, s.Display.NightMode,
		)))
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
