package web

import (
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"helipad-ng/internal/engine"
	"helipad-ng/internal/gps"
)

// Status holds process-level facts for /api/status. The instrument values
// come from the engine at request time.
type Status struct {
	startUnixNano int64
	mode          atomic.Value // string
	info          atomic.Value // map[string]any
	gps           atomic.Pointer[func() gps.Status]

	mu         sync.Mutex
	components map[string]func() any
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.info.Store(map[string]any{})
	return s
}

// SetStatic records the input mode (sim, replay, gps) and free-form details.
func (s *Status) SetStatic(mode string, info map[string]any) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if info != nil {
		s.info.Store(info)
	}
}

// SetGPS installs the GPS reader status provider.
func (s *Status) SetGPS(fn func() gps.Status) {
	if fn == nil {
		s.gps.Store(nil)
		return
	}
	s.gps.Store(&fn)
}

// SetComponent installs a status provider for an optional subsystem
// (board sensors, annunciator). It is called on every status request.
func (s *Status) SetComponent(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.components == nil {
		s.components = map[string]func() any{}
	}
	if fn == nil {
		delete(s.components, name)
		return
	}
	s.components[name] = fn
}

func (s *Status) componentsSnapshot() map[string]any {
	s.mu.Lock()
	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]func() any, len(names))
	for i, name := range names {
		fns[i] = s.components[name]
	}
	s.mu.Unlock()

	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = fns[i]()
	}
	return out
}

type BuildInfo struct {
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		out.ModulePath = bi.Main.Path
		out.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				out.Commit = s.Value
			case "vcs.modified":
				out.Dirty = s.Value == "true"
			case "vcs.time":
				out.BuildTime = s.Value
			}
		}
	}
	return out
}

type StatusSnapshot struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Mode      string         `json:"mode"`
	Info      map[string]any `json:"info"`
	GPS       *gps.Status    `json:"gps,omitempty"`
	// Components maps subsystem name to its status.
	Components map[string]any  `json:"components,omitempty"`
	Build      BuildInfo       `json:"build"`
	Engine     engine.Snapshot `json:"engine"`
}

func (s *Status) Snapshot(nowUTC time.Time, eng engine.Snapshot) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:   "helipad-ng",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Mode:      s.mode.Load().(string),
		Info:      s.info.Load().(map[string]any),
		Build:     readBuildInfo(),
		Engine:    eng,

		Components: s.componentsSnapshot(),
	}
	if fn := s.gps.Load(); fn != nil {
		st := (*fn)()
		snap.GPS = &st
	}
	return snap
}
