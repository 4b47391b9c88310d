// Package trajectory scores recorded pointer motion against human-motion
// heuristics.
//
// This is a cheap filter, not a security boundary: it raises the cost of a
// naive scripted drag but does nothing against replayed human motion.
package trajectory

import "math"

// Sample is one pointer-move event during a drag or click gesture.
// Timestamps are client-side monotonic milliseconds.
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// Reason explains why a trajectory was rejected.
type Reason string

const (
	OK                    Reason = ""
	TooShort              Reason = "too_short"
	TooSlow               Reason = "too_slow"
	TooFast               Reason = "too_fast"
	SpeedAnomaly          Reason = "speed_anomaly"
	TooFastMotion         Reason = "too_fast_motion"
	ExcessiveVerticalJump Reason = "excessive_vertical_jump"
	TooLinear             Reason = "too_linear"
)

// Classifier holds the kinematic thresholds. The zero value is not useful,
// use NewClassifier.
type Classifier struct {
	// MinPoints is the minimum number of samples in a gesture.
	MinPoints int `yaml:"minPoints" json:"minPoints"`

	// MaxDurationMs and MinDurationMs bound the total gesture time.
	MaxDurationMs int64 `yaml:"maxDurationMs" json:"maxDurationMs"`
	MinDurationMs int64 `yaml:"minDurationMs" json:"minDurationMs"`

	// MaxSpeed is the maximum instantaneous speed in px/s.
	MaxSpeed float64 `yaml:"maxSpeed" json:"maxSpeed"`

	// MaxDeviation is the maximum |dy| between consecutive samples.
	MaxDeviation float64 `yaml:"maxDeviation" json:"maxDeviation"`

	// MinYChanges is how many times the Y coordinate must move by at least
	// MinYChange over the gesture. A robotic drag along a ruler-straight
	// horizontal line fails this.
	MinYChanges int     `yaml:"minYChanges" json:"minYChanges"`
	MinYChange  float64 `yaml:"minYChange" json:"minYChange"`
}

// NewClassifier returns a Classifier with the original tuning.
func NewClassifier() *Classifier {
	return &Classifier{
		MinPoints:     10,
		MaxDurationMs: 5000,
		MinDurationMs: 100,
		MaxSpeed:      1500,
		MaxDeviation:  50,
		MinYChanges:   3,
		MinYChange:    1,
	}
}

// Score evaluates the rejection rules in a fixed order; the first failing
// rule determines the reason.
func (c *Classifier) Score(samples []Sample) (bool, Reason) {
	if len(samples) < c.MinPoints {
		return false, TooShort
	}

	total := samples[len(samples)-1].Timestamp - samples[0].Timestamp
	if total > c.MaxDurationMs {
		return false, TooSlow
	}
	if total < c.MinDurationMs {
		return false, TooFast
	}

	yChanges := 0
	lastY := samples[0].Y

	for i := 1; i < len(samples); i++ {
		prev, curr := samples[i-1], samples[i]

		dt := float64(curr.Timestamp-prev.Timestamp) / 1000
		if dt == 0 {
			return false, SpeedAnomaly
		}

		dx := curr.X - prev.X
		dy := curr.Y - prev.Y

		if speed := math.Sqrt(dx*dx+dy*dy) / dt; speed > c.MaxSpeed {
			return false, TooFastMotion
		}

		if math.Abs(dy) > c.MaxDeviation {
			return false, ExcessiveVerticalJump
		}

		if math.Abs(curr.Y-lastY) >= c.MinYChange {
			yChanges++
			lastY = curr.Y
		}
	}

	if yChanges < c.MinYChanges {
		return false, TooLinear
	}

	return true, OK
}

// Duration returns the total gesture time in milliseconds, or zero for fewer
// than two samples.
func Duration(samples []Sample) int64 {
	if len(samples) < 2 {
		return 0
	}
	return samples[len(samples)-1].Timestamp - samples[0].Timestamp
}
