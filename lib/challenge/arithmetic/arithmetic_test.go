package arithmetic

import (
	"log/slog"
	"strconv"
	"strings"
	"testing"

	chall "github.com/habuha/captcha/lib/challenge"
	"github.com/habuha/captcha/lib/challenge/challengetest"
)

func TestGenerate(t *testing.T) {
	rng := challengetest.RNG(t)

	for i := 0; i < 1000; i++ {
		expression, answer := generate(rng)

		if !strings.HasSuffix(expression, "= ?") {
			t.Fatalf("malformed expression: %q", expression)
		}

		n, err := strconv.Atoi(answer)
		if err != nil {
			t.Fatalf("answer %q is not an integer: %v", answer, err)
		}
		if n < 0 {
			t.Fatalf("negative answer %d for %q", n, expression)
		}
	}
}

func TestVerify(t *testing.T) {
	impl := &Impl{CanvasWidth: 300, CanvasHeight: 100}
	lg := slog.Default()

	c := challengetest.New(t, "arithmetic")
	if _, err := impl.Issue(lg, challengetest.RNG(t), c); err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name   string
		answer string
		pass   bool
	}{
		{name: "exact", answer: c.Arithmetic.ExpectedAnswer, pass: true},
		{name: "padded", answer: "  " + c.Arithmetic.ExpectedAnswer + " ", pass: true},
		{name: "wrong", answer: c.Arithmetic.ExpectedAnswer + "1", pass: false},
		{name: "empty", answer: "", pass: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := impl.Verify(lg, c, &chall.Submission{Answer: tt.answer})
			if tt.pass && err != nil {
				t.Fatalf("wanted pass, got: %v", err)
			}
			if !tt.pass && err == nil {
				t.Fatal("wanted failure, got pass")
			}
		})
	}
}
