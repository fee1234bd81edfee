package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"helipad-ng/internal/units"
)

// ScenarioScript is a deterministic, script-driven flight description.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	keyframes:
//	  - t: 0s
//	    lat_deg: 47.0
//	    lon_deg: 8.0
//	    alt_m: 400
//	    ground_kt: 0
//	    track_deg: 90
//	    heading_deg: 95   # optional, defaults to track
//	    pitch_deg: 0
//	    roll_deg: 0
//	    g_load: 1         # optional, defaults to 1
//
// Keyframes must be sorted by time with non-decreasing t values.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

// Keyframe is a time-stamped aircraft state. Pointer fields are optional.
type Keyframe struct {
	T          time.Duration `yaml:"t"`
	LatDeg     float64       `yaml:"lat_deg"`
	LonDeg     float64       `yaml:"lon_deg"`
	AltM       float64       `yaml:"alt_m"`
	GroundKt   float64       `yaml:"ground_kt"`
	TrackDeg   float64       `yaml:"track_deg"`
	HeadingDeg *float64      `yaml:"heading_deg"`
	PitchDeg   float64       `yaml:"pitch_deg"`
	RollDeg    float64       `yaml:"roll_deg"`
	GLoad      *float64      `yaml:"g_load"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script ScenarioScript
	// Derived duration (script.Duration or max keyframe time).
	duration time.Duration

	// Loop wraps elapsed time around Duration instead of holding the last
	// keyframe.
	Loop bool
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.GLoad != nil && *kf.GLoad < 0 {
			return nil, fmt.Errorf("keyframes[%d].g_load must be >= 0", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// StateAt implements Model. Without Loop, elapsed is clamped to
// [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration) State {
	if s == nil {
		return State{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.Loop {
		elapsed = elapsed % s.duration
	} else if elapsed > s.duration {
		elapsed = s.duration
	}

	kf0, kf1, alpha := selectSegment(s.script.Keyframes, elapsed)
	trk := lerpAngleDeg(kf0.TrackDeg, kf1.TrackDeg, alpha)
	return State{
		LatDeg:     lerp(kf0.LatDeg, kf1.LatDeg, alpha),
		LonDeg:     lerp(kf0.LonDeg, kf1.LonDeg, alpha),
		AltM:       lerp(kf0.AltM, kf1.AltM, alpha),
		GroundKt:   lerp(kf0.GroundKt, kf1.GroundKt, alpha),
		TrackDeg:   trk,
		HeadingDeg: lerpAngleDeg(kf0.heading(), kf1.heading(), alpha),
		PitchDeg:   lerp(kf0.PitchDeg, kf1.PitchDeg, alpha),
		RollDeg:    lerp(kf0.RollDeg, kf1.RollDeg, alpha),
		GLoad:      lerp(kf0.gLoad(), kf1.gLoad(), alpha),
	}
}

func (k Keyframe) heading() float64 {
	if k.HeadingDeg != nil {
		return *k.HeadingDeg
	}
	return k.TrackDeg
}

func (k Keyframe) gLoad() float64 {
	if k.GLoad != nil {
		return *k.GLoad
	}
	return 1
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	return k0, k1, min(max(alpha, 0), 1)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpAngleDeg interpolates along the shortest arc.
func lerpAngleDeg(a0, a1, t float64) float64 {
	a0 = units.NormalizeDegrees(a0)
	return units.NormalizeDegrees(a0 + units.SignedDelta(a0, a1)*t)
}
