package units

// EMA is an exponential moving average accumulator with an explicit
// initialized flag. The first Update seeds the value directly, so a
// legitimately zero reading is never mistaken for "no data yet".
type EMA struct {
	Alpha float64

	value float64
	ok    bool
}

func NewEMA(alpha float64) EMA { return EMA{Alpha: alpha} }

func (e *EMA) Update(x float64) float64 {
	if !e.ok {
		e.value = x
		e.ok = true
		return x
	}
	e.value = ExponentialMovingAverage(x, e.value, e.Alpha)
	return e.value
}

func (e *EMA) Value() (float64, bool) { return e.value, e.ok }

func (e *EMA) Reset() {
	e.value = 0
	e.ok = false
}

// AngleEMA smooths compass angles. Blending follows the shortest arc, so a
// heading crossing north moves 359 -> 0 -> 1 instead of sweeping through 180.
type AngleEMA struct {
	Alpha float64

	value float64
	ok    bool
}

func NewAngleEMA(alpha float64) AngleEMA { return AngleEMA{Alpha: alpha} }

func (e *AngleEMA) Update(deg float64) float64 {
	deg = NormalizeDegrees(deg)
	if !e.ok {
		e.value = deg
		e.ok = true
		return deg
	}
	// alpha*prev + (1-alpha)*cur, measured along the short arc from prev.
	e.value = NormalizeDegrees(e.value + (1-e.Alpha)*SignedDelta(e.value, deg))
	return e.value
}

func (e *AngleEMA) Value() (float64, bool) { return e.value, e.ok }

func (e *AngleEMA) Reset() {
	e.value = 0
	e.ok = false
}
