package lib

import (
	"context"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	captcha "github.com/habuha/captcha"
	"github.com/habuha/captcha/lib/admission"
	"github.com/habuha/captcha/lib/challenge"
	"github.com/habuha/captcha/lib/challenge/glyphclick"
	"github.com/habuha/captcha/lib/challenge/slidepuzzle"
	"github.com/habuha/captcha/lib/geometry"
	"github.com/habuha/captcha/lib/render"
	"github.com/habuha/captcha/lib/store"

	// challenge implementations
	_ "github.com/habuha/captcha/lib/challenge/arithmetic"
)

var (
	challengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_challenges_issued",
		Help: "The total number of challenges issued",
	}, []string{"variant"})

	challengesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_challenges_validated",
		Help: "The total number of challenges validated",
	}, []string{"variant"})

	failedValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_failed_validations",
		Help: "The total number of failed validations",
	}, []string{"variant", "status"})
)

var (
	// ErrRateLimited is returned by Issue when the admission controller
	// refuses the client.
	ErrRateLimited = errors.New("lib: rate limited")

	// ErrUnknownVariant is returned by Issue for a variant nobody registered.
	ErrUnknownVariant = errors.New("lib: unknown challenge variant")
)

type Options struct {
	// Store holds in-flight challenge records and rendered image bytes.
	Store store.Interface

	// Renderer is the image synthesis collaborator.
	Renderer render.Renderer

	// Config tunes thresholds and limits; nil means DefaultConfig.
	Config *Config

	// ED25519PrivateKey signs pass tokens. Generated if neither it nor
	// HS512Secret is set.
	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte

	// PassTokenExpiration is how long a minted pass token stays valid.
	PassTokenExpiration time.Duration
}

// Server is the challenge service: it issues challenges, verifies
// submissions, and serves the rendered image assets. It is safe for
// concurrent use; the store and the admission controller are the only shared
// mutable state.
type Server struct {
	mux         *http.ServeMux
	raw         store.Interface
	challenges  *store.JSON[challenge.Challenge]
	admission   *admission.Controller
	renderer    render.Renderer
	cfg         *Config
	ed25519Priv ed25519.PrivateKey
	hs512Secret []byte
	opts        Options

	rngLock sync.Mutex
	rng     *rand.Rand

	now func() time.Time
}

func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("lib: Options.Store is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("lib: Options.Renderer is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	if opts.ED25519PrivateKey == nil && len(opts.HS512Secret) == 0 {
		slog.Debug("opts.ED25519PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(cryptorand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	if opts.PassTokenExpiration == 0 {
		opts.PassTokenExpiration = captcha.PassTokenValidity
	}

	// re-register the tuned slide puzzle implementation over the default
	planner := geometry.NewPlanner()
	planner.Constraints = cfg.Geometry
	challenge.Register("slidepuzzle", &slidepuzzle.Impl{
		CanvasWidth:  cfg.SlidePuzzle.CanvasWidth,
		CanvasHeight: cfg.SlidePuzzle.CanvasHeight,
		GapWidth:     cfg.SlidePuzzle.GapWidth,
		GapHeight:    cfg.SlidePuzzle.GapHeight,
		Tolerance:    cfg.SlidePuzzle.Tolerance,
		Planner:      planner,
		Classifier:   cfg.Classifier,
	})

	seed, err := randomSeed()
	if err != nil {
		return nil, fmt.Errorf("lib: can't seed rng: %w", err)
	}

	result := &Server{
		raw:         opts.Store,
		challenges:  &store.JSON[challenge.Challenge]{Underlying: opts.Store, Prefix: "challenge:"},
		admission:   admission.New(cfg.Admission.Limit, cfg.Admission.Window),
		renderer:    opts.Renderer,
		cfg:         cfg,
		ed25519Priv: opts.ED25519PrivateKey,
		hs512Secret: opts.HS512Secret,
		opts:        opts,
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
	}

	result.mux = result.buildMux()

	go result.sweepThread(ctx)

	return result, nil
}

func randomSeed() (int64, error) {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return 0, err
	}

	var v int64
	for _, b := range buf {
		v = v<<8 | int64(b)
	}
	return v, nil
}

func (s *Server) sweepThread(ctx context.Context) {
	t := time.NewTicker(s.cfg.Admission.Window)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.admission.Sweep()
		}
	}
}

// IssueResult is the non-secret part of a freshly issued challenge.
type IssueResult struct {
	ID        string                  `json:"id"`
	Variant   string                  `json:"variant"`
	Render    challenge.RenderPayload `json:"render"`
	ExpiresIn int                     `json:"expiresInSeconds"`
}

// Status is the terminal outcome of a verification.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusExpired  Status = "expired"
	StatusNotFound Status = "not_found"
)

// VerifyResult reports a verification outcome. Reason is a short
// machine-readable tag; it never carries the expected answer or coordinates.
type VerifyResult struct {
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	PassToken string `json:"passToken,omitempty"`
}

// Issue creates and stores a new challenge of the given variant for
// clientIdentity. It returns ErrRateLimited when the admission controller
// refuses, ErrUnknownVariant for an unregistered variant, and wraps
// render.ErrUnavailable when the image collaborator fails.
func (s *Server) Issue(ctx context.Context, lg *slog.Logger, clientIdentity, variant string) (*IssueResult, error) {
	if !s.admission.Allow(clientIdentity) {
		lg.Debug("admission refused", "variant", variant)
		return nil, ErrRateLimited
	}

	impl, ok := challenge.Get(variant)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}

	c := &challenge.Challenge{
		ID:           uuid.NewString(),
		Variant:      variant,
		IssuedAt:     s.now(),
		ExpiresAfter: s.cfg.ChallengeExpiry,
	}

	s.rngLock.Lock()
	renderPayload, err := impl.Issue(lg, s.rng, c)
	s.rngLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("can't generate %s challenge: %w", variant, err)
	}

	rendered, err := s.renderer.Render(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", render.ErrUnavailable, err)
	}

	ttl := c.ExpiresAfter + captcha.StoreGracePeriod

	for kind, data := range rendered.Assets {
		if err := s.raw.Set(ctx, assetKey(c.ID, kind), data, ttl); err != nil {
			return nil, fmt.Errorf("can't store %s asset: %w", kind, err)
		}
	}

	if err := s.raw.Set(ctx, assetKey(c.ID, assetContentType), []byte(rendered.ContentType), ttl); err != nil {
		return nil, fmt.Errorf("can't store asset content type: %w", err)
	}

	if err := s.challenges.Set(ctx, c.ID, *c, ttl); err != nil {
		return nil, fmt.Errorf("can't store challenge: %w", err)
	}

	challengesIssued.WithLabelValues(variant).Inc()
	lg.Debug("challenge issued", "id", c.ID, "variant", variant)

	return &IssueResult{
		ID:        c.ID,
		Variant:   variant,
		Render:    renderPayload,
		ExpiresIn: int(c.ExpiresAfter.Seconds()),
	}, nil
}

// Verify consumes the challenge for id and judges the submission. Whatever
// the outcome, the record is gone afterwards: replaying the same id reports
// not_found. On success the minted pass token is bound to clientIdentity. A
// non-nil error means the service itself broke, not that the user failed.
func (s *Server) Verify(ctx context.Context, lg *slog.Logger, clientIdentity, id string, sub *challenge.Submission) (*VerifyResult, error) {
	c, err := s.challenges.Consume(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &VerifyResult{Status: StatusNotFound, Reason: "retry"}, nil
	case err != nil:
		return nil, fmt.Errorf("can't consume challenge: %w", err)
	}

	go s.deleteAssets(context.Background(), c.ID)

	if c.Expired(s.now()) {
		failedValidations.WithLabelValues(c.Variant, string(StatusExpired)).Inc()
		lg.Debug("challenge expired", "id", id, "variant", c.Variant)
		return &VerifyResult{Status: StatusExpired}, nil
	}

	impl, ok := challenge.Get(c.Variant)
	if !ok {
		return nil, fmt.Errorf("[unexpected] %w: stored challenge has variant %q", ErrUnknownVariant, c.Variant)
	}

	if err := impl.Verify(lg, &c, sub); err != nil {
		failedValidations.WithLabelValues(c.Variant, string(StatusFailure)).Inc()

		var cerr *challenge.Error
		if errors.As(err, &cerr) {
			lg.Debug("challenge failed", "id", id, "variant", c.Variant, "reason", cerr.PublicReason, "err", err)
			return &VerifyResult{Status: StatusFailure, Reason: cerr.PublicReason}, nil
		}

		return nil, fmt.Errorf("can't verify challenge: %w", err)
	}

	passToken, err := s.signPassToken(&c, clientIdentity)
	if err != nil {
		return nil, fmt.Errorf("can't sign pass token: %w", err)
	}

	challengesValidated.WithLabelValues(c.Variant).Inc()
	lg.Debug("challenge passed", "id", id, "variant", c.Variant)

	return &VerifyResult{Status: StatusSuccess, PassToken: passToken}, nil
}

// CheckClick hit-tests a click against a live glyphclick challenge without
// consuming it.
func (s *Server) CheckClick(ctx context.Context, id string, x, y int) (challenge.HitRegion, bool) {
	c, err := s.challenges.Get(ctx, id)
	if err != nil || c.Expired(s.now()) {
		return challenge.HitRegion{}, false
	}

	return glyphclick.CheckClick(&c, x, y)
}

// Asset returns the rendered image bytes of the given kind, and the content
// type the renderer declared for them, for a live challenge.
func (s *Server) Asset(ctx context.Context, id, kind string) ([]byte, string, error) {
	data, err := s.raw.Get(ctx, assetKey(id, kind))
	if err != nil {
		return nil, "", err
	}

	ctype, err := s.raw.Get(ctx, assetKey(id, assetContentType))
	if err != nil {
		return data, "application/octet-stream", nil
	}

	return data, string(ctype), nil
}

func (s *Server) deleteAssets(ctx context.Context, id string) {
	for _, kind := range []string{render.KindBackground, render.KindOverlay, assetContentType} {
		if err := s.raw.Delete(ctx, assetKey(id, kind)); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Debug("can't delete challenge asset", "id", id, "kind", kind, "err", err)
		}
	}
}

// assetContentType is the pseudo-kind under which the renderer's declared
// content type is stored alongside the image bytes.
const assetContentType = "content-type"

func assetKey(id, kind string) string {
	return "asset:" + kind + ":" + id
}

func (s *Server) signPassToken(c *challenge.Challenge, clientIdentity string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"challenge": c.ID,
		"variant":   c.Variant,
		"sub":       clientIdentity,
		"iat":       now.Unix(),
		"nbf":       now.Add(-1 * time.Minute).Unix(),
		"exp":       now.Add(s.opts.PassTokenExpiration).Unix(),
	}

	if len(s.hs512Secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.ed25519Priv)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.hs512Secret)
}
