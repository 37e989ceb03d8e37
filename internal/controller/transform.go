package controller

import (
	"math"
	"time"
)

const axisScale = 32767

// StickAxes turns a touch delta into stick axis values. The raw delta is a
// normalised touch offset, so it is limited to [-1, 1] first. Then, in order:
// scale by sensitivity, clamp to [-1, 1], zero any axis whose magnitude is
// below deadzone, quantise to the 16-bit range, invert Y so that upward motion
// looks up.
func StickAxes(dx, dy, sensitivity, deadzone float64) (x, y int32) {
	x = quantize(shapeAxis(dx, sensitivity, deadzone))
	y = -quantize(shapeAxis(dy, sensitivity, deadzone))
	return x, y
}

func shapeAxis(v, sensitivity, deadzone float64) float64 {
	v = clamp(finite(v), -1, 1) * sensitivity
	if math.IsNaN(v) {
		return 0
	}
	v = clamp(v, -1, 1)
	if math.Abs(v) < deadzone {
		return 0
	}
	return v
}

func quantize(v float64) int32 {
	return int32(math.Round(v * axisScale))
}

// PointerDelta scales a touch delta into relative pointer pixels.
func PointerDelta(dx, dy, sensitivity, scale float64) (int32, int32) {
	px := func(v float64) int32 {
		v = finite(v) * sensitivity * scale
		if math.IsNaN(v) {
			return 0
		}
		return int32(math.Round(clamp(v, math.MinInt16, math.MaxInt16)))
	}
	return px(dx), px(dy)
}

// ClampVibration forces intensity into [0, 1] and d into [min, max].
func ClampVibration(intensity float64, d, min, max time.Duration) Vibration {
	intensity = clamp(finite(intensity), 0, 1)
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return Vibration{Intensity: intensity, Duration: d}
}

// MotorLevel maps a normalised intensity onto an 8-bit motor value.
func MotorLevel(intensity float64) uint8 {
	return uint8(math.Round(clamp(finite(intensity), 0, 1) * 255))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// finite maps NaN and ±Inf to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
