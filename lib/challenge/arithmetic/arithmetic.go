// Package arithmetic implements the answer-an-equation challenge variant.
package arithmetic

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	chall "github.com/habuha/captcha/lib/challenge"
)

func init() {
	chall.Register("arithmetic", &Impl{
		CanvasWidth:  300,
		CanvasHeight: 100,
	})
}

type Impl struct {
	CanvasWidth  int
	CanvasHeight int
}

func (i *Impl) Issue(lg *slog.Logger, rng *rand.Rand, c *chall.Challenge) (chall.RenderPayload, error) {
	expression, answer := generate(rng)

	c.Arithmetic = &chall.ArithmeticPayload{
		Expression:     expression,
		ExpectedAnswer: answer,
	}

	return chall.RenderPayload{
		CanvasWidth:  i.CanvasWidth,
		CanvasHeight: i.CanvasHeight,
		Assets:       []string{"background"},
	}, nil
}

func (i *Impl) Verify(lg *slog.Logger, c *chall.Challenge, sub *chall.Submission) error {
	if c.Arithmetic == nil {
		return chall.NewError("verify", "invalid_state", fmt.Errorf("%w: arithmetic payload", chall.ErrMissingField))
	}

	if sub.Answer == "" {
		return chall.NewError("verify", "missing_answer", fmt.Errorf("%w: answer", chall.ErrMissingField))
	}

	got := strings.ToLower(strings.TrimSpace(sub.Answer))
	want := strings.ToLower(c.Arithmetic.ExpectedAnswer)

	if got != want {
		return chall.NewError("verify", "wrong_answer", fmt.Errorf("%w: wanted %q but got %q", chall.ErrFailed, want, got))
	}

	return nil
}

// generate draws an expression whose answer is always a non-negative integer:
// subtraction keeps the minuend at least ten above the subtrahend's cap, and
// division is constructed from its own answer so it comes out exact.
func generate(rng *rand.Rand) (expression, answer string) {
	var a, b, result int
	var op string

	switch rng.Intn(4) {
	case 0:
		op = "+"
		a = rng.Intn(100)
		b = rng.Intn(100)
		result = a + b
	case 1:
		op = "-"
		a = 50 + rng.Intn(50)
		b = rng.Intn(a - 9)
		result = a - b
	case 2:
		op = "×"
		a = rng.Intn(100)
		b = rng.Intn(11)
		result = a * b
	default:
		op = "÷"
		b = 1 + rng.Intn(10)
		result = rng.Intn(51)
		a = b * result
	}

	return fmt.Sprintf("%d %s %d = ?", a, op, b), fmt.Sprintf("%d", result)
}
