package lib

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/habuha/captcha/internal"
	"github.com/habuha/captcha/lib/challenge"
	"github.com/habuha/captcha/lib/render"
	"github.com/habuha/captcha/lib/store/memory"
	"github.com/habuha/captcha/lib/trajectory"
)

func init() {
	internal.InitSlog("debug")
}

type fakeRenderer struct {
	fail bool
}

func (f fakeRenderer) Render(ctx context.Context, c *challenge.Challenge) (*render.Rendered, error) {
	if f.fail {
		return nil, render.ErrUnavailable
	}

	assets := map[string][]byte{
		render.KindBackground: []byte("not really a png: " + c.ID),
	}
	if c.Variant == "slidepuzzle" {
		assets[render.KindOverlay] = []byte("gap piece: " + c.ID)
	}

	return &render.Rendered{ContentType: "image/webp", Assets: assets}, nil
}

func spawnServer(t *testing.T, cfg *Config) *Server {
	t.Helper()

	s, err := New(t.Context(), Options{
		Store:    memory.New(t.Context()),
		Renderer: fakeRenderer{},
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("can't construct server: %v", err)
	}

	return s
}

// humanDrag builds a plausible drag gesture ending at finalX.
func humanDrag(finalX int) []trajectory.Sample {
	const n = 12
	result := make([]trajectory.Sample, n)
	y := 75.0
	for i := range result {
		if i%3 == 0 {
			y += 2
		}
		result[i] = trajectory.Sample{
			X:         float64(finalX) * float64(i) / float64(n-1),
			Y:         y,
			Timestamp: int64(i) * 70,
		}
	}
	return result
}

func (s *Server) peek(t *testing.T, id string) challenge.Challenge {
	t.Helper()

	c, err := s.challenges.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("can't peek at challenge %s: %v", id, err)
	}
	return c
}

func TestIssueVerifyArithmetic(t *testing.T) {
	s := spawnServer(t, nil)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "arithmetic")
	if err != nil {
		t.Fatal(err)
	}

	if issued.ExpiresIn != 30 {
		t.Errorf("wanted 30 second expiry, got: %d", issued.ExpiresIn)
	}

	answer := s.peek(t, issued.ID).Arithmetic.ExpectedAnswer

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{Answer: answer})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("wanted success, got: %s (%s)", result.Status, result.Reason)
	}
	if result.PassToken == "" {
		t.Error("success did not mint a pass token")
	}

	// one-shot: replaying the token reports not_found even with the right answer
	result, err = s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{Answer: answer})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusNotFound {
		t.Fatalf("wanted not_found on replay, got: %s", result.Status)
	}
}

func TestPassTokenBoundToClient(t *testing.T) {
	s := spawnServer(t, nil)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "arithmetic")
	if err != nil {
		t.Fatal(err)
	}

	answer := s.peek(t, issued.ID).Arithmetic.ExpectedAnswer

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID, &challenge.Submission{Answer: answer})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("wanted success, got: %s (%s)", result.Status, result.Reason)
	}

	token, err := jwt.Parse(result.PassToken, func(*jwt.Token) (any, error) {
		return s.ed25519Priv.Public(), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		t.Fatalf("can't parse pass token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("wanted MapClaims, got: %T", token.Claims)
	}
	if claims["sub"] != "203.0.113.9" {
		t.Errorf("pass token is not bound to the client, sub: %v", claims["sub"])
	}
	if claims["variant"] != "arithmetic" {
		t.Errorf("wrong variant claim: %v", claims["variant"])
	}
	if claims["challenge"] != issued.ID {
		t.Errorf("wrong challenge claim: %v", claims["challenge"])
	}
}

func TestVerifyConsumesOnFailure(t *testing.T) {
	s := spawnServer(t, nil)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "arithmetic")
	if err != nil {
		t.Fatal(err)
	}

	answer := s.peek(t, issued.ID).Arithmetic.ExpectedAnswer

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{Answer: answer + "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailure {
		t.Fatalf("wanted failure, got: %s", result.Status)
	}

	// the record is gone; even the right answer can't save it now
	result, err = s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{Answer: answer})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusNotFound {
		t.Fatalf("wanted not_found after failed verify, got: %s", result.Status)
	}
}

func TestVerifyExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChallengeExpiry = 50 * time.Millisecond

	s := spawnServer(t, cfg)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "arithmetic")
	if err != nil {
		t.Fatal(err)
	}

	answer := s.peek(t, issued.ID).Arithmetic.ExpectedAnswer

	time.Sleep(60 * time.Millisecond)

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{Answer: answer})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusExpired {
		t.Fatalf("wanted expired even with the correct answer, got: %s", result.Status)
	}
}

func TestIssueRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Admission.Limit = 2

	s := spawnServer(t, cfg)
	lg := slog.Default()

	for i := 0; i < 2; i++ {
		if _, err := s.Issue(t.Context(), lg, "198.51.100.7", "arithmetic"); err != nil {
			t.Fatalf("issue %d refused: %v", i+1, err)
		}
	}

	if _, err := s.Issue(t.Context(), lg, "198.51.100.7", "arithmetic"); err != ErrRateLimited {
		t.Fatalf("wanted ErrRateLimited, got: %v", err)
	}

	// other identities are unaffected
	if _, err := s.Issue(t.Context(), lg, "198.51.100.8", "arithmetic"); err != nil {
		t.Fatalf("fresh identity refused: %v", err)
	}
}

func TestIssueUnknownVariant(t *testing.T) {
	s := spawnServer(t, nil)

	if _, err := s.Issue(t.Context(), slog.Default(), "203.0.113.9", "telepathy"); err == nil {
		t.Fatal("wanted an error for an unknown variant")
	}
}

func TestIssueRendererDown(t *testing.T) {
	s := spawnServer(t, nil)
	s.renderer = fakeRenderer{fail: true}

	if _, err := s.Issue(t.Context(), slog.Default(), "203.0.113.9", "arithmetic"); err == nil {
		t.Fatal("wanted an error when the renderer is down")
	}
}

func TestSlidePuzzleFlow(t *testing.T) {
	s := spawnServer(t, nil)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "slidepuzzle")
	if err != nil {
		t.Fatal(err)
	}

	placement := s.peek(t, issued.ID).SlidePuzzle.Placement

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{
		FinalX:     placement.TargetX + 2,
		Trajectory: humanDrag(placement.TargetX + 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("wanted success, got: %s (%s)", result.Status, result.Reason)
	}

	result, err = s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{FinalX: placement.TargetX})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusNotFound {
		t.Fatalf("wanted not_found on replay, got: %s", result.Status)
	}
}

func TestSlidePuzzleTrap(t *testing.T) {
	s := spawnServer(t, nil)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "slidepuzzle")
	if err != nil {
		t.Fatal(err)
	}

	placement := s.peek(t, issued.ID).SlidePuzzle.Placement

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{
		FinalX:     placement.DecoyX,
		Trajectory: humanDrag(placement.DecoyX),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailure || result.Reason != "trap" {
		t.Fatalf("wanted failure with reason trap, got: %s (%s)", result.Status, result.Reason)
	}
}

func TestGlyphClickFlow(t *testing.T) {
	s := spawnServer(t, nil)
	lg := slog.Default()

	issued, err := s.Issue(t.Context(), lg, "203.0.113.9", "glyphclick")
	if err != nil {
		t.Fatal(err)
	}

	payload := s.peek(t, issued.ID).GlyphClick

	// a click on each region is observable through CheckClick before verify
	region := payload.HitRegions[0]
	hit, ok := s.CheckClick(t.Context(), issued.ID, region.CenterX, region.CenterY)
	if !ok || hit.Glyph != region.Glyph {
		t.Fatalf("CheckClick on %q missed: %+v %v", region.Glyph, hit, ok)
	}

	result, err := s.Verify(t.Context(), lg, "203.0.113.9", issued.ID,&challenge.Submission{
		Clicks: payload.ExpectedOrder,
		Trajectory: []trajectory.Sample{
			{X: 20, Y: 30, Timestamp: 0},
			{X: 180, Y: 90, Timestamp: 800},
			{X: 330, Y: 150, Timestamp: 1600},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("wanted success, got: %s (%s)", result.Status, result.Reason)
	}
}
