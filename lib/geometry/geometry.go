// Package geometry places the target gap and the decoy gap for slide puzzle
// challenges.
//
// The decoy exists to trap solvers that locate "the rectangle" without caring
// which one: it must sit far enough from the target that the two are never
// confusable, yet its placement distribution must match the target's so that
// nothing about position alone gives the real gap away.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrCanvasTooSmall is returned when the canvas cannot hold a gap inside
	// the configured margins at all.
	ErrCanvasTooSmall = errors.New("geometry: canvas too small for gap and margins")
)

// Constraints holds the separation requirements between target and decoy.
type Constraints struct {
	// MinSeparation is the minimum Euclidean distance between the gap origins,
	// in pixels.
	MinSeparation float64 `yaml:"minSeparation" json:"minSeparation"`

	// MinHeightDiff is the minimum vertical separation. Without it a solver
	// could always pick the region at the dominant height.
	MinHeightDiff int `yaml:"minHeightDiff" json:"minHeightDiff"`

	// MinWidthDiff is the minimum horizontal separation. It must exceed the
	// combined verify tolerances of the trap band and the target band so the
	// two bands can never overlap on the X axis.
	MinWidthDiff int `yaml:"minWidthDiff" json:"minWidthDiff"`

	// MaxAttempts bounds the rejection sampling loop. Past it, placement
	// falls back to relaxed constraints so Plan always terminates.
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`
}

// DefaultConstraints match the original captcha tuning, with the horizontal
// separation and attempt bound added.
var DefaultConstraints = Constraints{
	MinSeparation: 80,
	MinHeightDiff: 30,
	MinWidthDiff:  30,
	MaxAttempts:   1000,
}

// Margins describes how far from the canvas edge a gap may be placed. The
// decoy gets its own, wider horizontal margin so its domain is a superset of
// neither axis of the target's.
type Margins struct {
	Left   int `yaml:"left" json:"left"`
	Right  int `yaml:"right" json:"right"`
	Top    int `yaml:"top" json:"top"`
	Bottom int `yaml:"bottom" json:"bottom"`
}

// Planner picks target and decoy rectangles on a canvas.
type Planner struct {
	Target      Margins
	Decoy       Margins
	Constraints Constraints
}

// NewPlanner returns a Planner with the original tuning: the target keeps a
// 100px left margin (room for the slider to travel), the decoy may start
// further left, and both keep 50px clear on the right.
func NewPlanner() *Planner {
	return &Planner{
		Target:      Margins{Left: 100, Right: 50, Top: 10, Bottom: 10},
		Decoy:       Margins{Left: 50, Right: 50, Top: 10, Bottom: 10},
		Constraints: DefaultConstraints,
	}
}

// Placement is the output of Plan: the true gap origin and the decoy origin.
type Placement struct {
	TargetX int `json:"targetX"`
	TargetY int `json:"targetY"`
	DecoyX  int `json:"decoyX"`
	DecoyY  int `json:"decoyY"`
}

// Plan picks a target rectangle uniformly inside the target margins, then
// rejection-samples a decoy until the separation constraints hold. The loop is
// bounded: after MaxAttempts the height and width requirements are dropped and
// only the Euclidean distance is enforced, and after another MaxAttempts any
// in-bounds decoy is accepted. A Placement is always produced for a canvas
// that passes the bounds check.
func (p *Planner) Plan(rng *rand.Rand, canvasW, canvasH, gapW, gapH int) (Placement, error) {
	tx, ty, err := samplePoint(rng, p.Target, canvasW, canvasH, gapW, gapH)
	if err != nil {
		return Placement{}, fmt.Errorf("placing target: %w", err)
	}

	result := Placement{TargetX: tx, TargetY: ty}

	maxAttempts := p.Constraints.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConstraints.MaxAttempts
	}

	relaxed := false
	for attempt := 0; ; attempt++ {
		dx, dy, err := samplePoint(rng, p.Decoy, canvasW, canvasH, gapW, gapH)
		if err != nil {
			return Placement{}, fmt.Errorf("placing decoy: %w", err)
		}

		result.DecoyX = dx
		result.DecoyY = dy

		if p.separated(result, relaxed) {
			return result, nil
		}

		if attempt >= maxAttempts {
			if relaxed {
				// even the distance requirement is unsatisfiable on this
				// canvas, take what we have rather than spin forever
				return result, nil
			}
			relaxed = true
			attempt = 0
		}
	}
}

func (p *Planner) separated(pl Placement, relaxed bool) bool {
	ddx := float64(pl.DecoyX - pl.TargetX)
	ddy := float64(pl.DecoyY - pl.TargetY)
	if math.Sqrt(ddx*ddx+ddy*ddy) < p.Constraints.MinSeparation {
		return false
	}

	if relaxed {
		return true
	}

	if abs(pl.DecoyY-pl.TargetY) < p.Constraints.MinHeightDiff {
		return false
	}

	if abs(pl.DecoyX-pl.TargetX) < p.Constraints.MinWidthDiff {
		return false
	}

	return true
}

func samplePoint(rng *rand.Rand, m Margins, canvasW, canvasH, gapW, gapH int) (int, int, error) {
	loX, hiX := m.Left, canvasW-gapW-m.Right
	loY, hiY := m.Top, canvasH-gapH-m.Bottom

	if hiX < loX || hiY < loY {
		return 0, 0, fmt.Errorf("%w: canvas %dx%d, gap %dx%d, margins %+v", ErrCanvasTooSmall, canvasW, canvasH, gapW, gapH, m)
	}

	return loX + rng.Intn(hiX-loX+1), loY + rng.Intn(hiY-loY+1), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
