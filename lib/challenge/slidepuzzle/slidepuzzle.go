// Package slidepuzzle implements the slide-to-gap challenge variant. The
// canvas shows two plausible gaps; dragging the slider to the decoy is always
// a failure, and the drag itself must pass the kinematic classifier.
package slidepuzzle

import (
	"fmt"
	"log/slog"
	"math/rand"

	chall "github.com/habuha/captcha/lib/challenge"
	"github.com/habuha/captcha/lib/geometry"
	"github.com/habuha/captcha/lib/trajectory"
)

func init() {
	chall.Register("slidepuzzle", &Impl{
		CanvasWidth:  300,
		CanvasHeight: 150,
		GapWidth:     40,
		GapHeight:    40,
		Tolerance:    10,
		Planner:      geometry.NewPlanner(),
		Classifier:   trajectory.NewClassifier(),
	})
}

type Impl struct {
	CanvasWidth  int
	CanvasHeight int
	GapWidth     int
	GapHeight    int

	// Tolerance is the half-width in pixels of both the target band and the
	// decoy trap band. The planner's minimum horizontal separation keeps the
	// two bands disjoint.
	Tolerance int

	Planner    *geometry.Planner
	Classifier *trajectory.Classifier
}

func (i *Impl) Issue(lg *slog.Logger, rng *rand.Rand, c *chall.Challenge) (chall.RenderPayload, error) {
	placement, err := i.Planner.Plan(rng, i.CanvasWidth, i.CanvasHeight, i.GapWidth, i.GapHeight)
	if err != nil {
		return chall.RenderPayload{}, fmt.Errorf("can't place gaps: %w", err)
	}

	c.SlidePuzzle = &chall.SlidePuzzlePayload{
		Placement:    placement,
		CanvasWidth:  i.CanvasWidth,
		CanvasHeight: i.CanvasHeight,
		GapWidth:     i.GapWidth,
		GapHeight:    i.GapHeight,
	}

	return chall.RenderPayload{
		CanvasWidth:  i.CanvasWidth,
		CanvasHeight: i.CanvasHeight,
		GapWidth:     i.GapWidth,
		GapHeight:    i.GapHeight,
		Assets:       []string{"background", "overlay"},
	}, nil
}

// Verify scores the drag trajectory, then checks the decoy trap band before
// the target band. Trap-before-target precedence means landing on the decoy
// fails even if the submission would otherwise be judged close enough.
func (i *Impl) Verify(lg *slog.Logger, c *chall.Challenge, sub *chall.Submission) error {
	if c.SlidePuzzle == nil {
		return chall.NewError("verify", "invalid_state", fmt.Errorf("%w: slidepuzzle payload", chall.ErrMissingField))
	}

	if ok, reason := i.Classifier.Score(sub.Trajectory); !ok {
		return chall.NewError("verify", string(reason), fmt.Errorf("%w: trajectory rejected: %s", chall.ErrFailed, reason))
	}

	placement := c.SlidePuzzle.Placement

	if abs(sub.FinalX-placement.DecoyX) <= i.Tolerance {
		return chall.NewError("verify", "trap", fmt.Errorf("%w: landed on decoy at %d (final x %d)", chall.ErrFailed, placement.DecoyX, sub.FinalX))
	}

	if abs(sub.FinalX-placement.TargetX) > i.Tolerance {
		return chall.NewError("verify", "wrong_position", fmt.Errorf("%w: wanted x near %d but got %d", chall.ErrFailed, placement.TargetX, sub.FinalX))
	}

	chall.TimeTaken.WithLabelValues(c.Variant).Observe(float64(trajectory.Duration(sub.Trajectory)))

	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
