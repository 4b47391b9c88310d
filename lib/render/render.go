// Package render is the boundary to the image synthesis collaborator. The
// core never draws pixels; it hands a challenge to a Renderer and stores the
// bytes that come back.
package render

import (
	"context"
	"errors"

	"github.com/habuha/captcha/lib/challenge"
)

// ErrUnavailable is returned when the collaborator cannot produce an image.
// The service maps it to an internal server error; it is never reported as a
// challenge failure.
var ErrUnavailable = errors.New("render: image synthesis unavailable")

// Asset kinds a renderer may produce.
const (
	KindBackground = "background"
	KindOverlay    = "overlay"
)

// Rendered is the raster output for one challenge, keyed by asset kind.
type Rendered struct {
	ContentType string
	Assets      map[string][]byte
}

// Renderer turns a challenge payload into the images the client needs. The
// slide puzzle gets a background with both gaps masked plus the draggable
// overlay piece; the other variants get a single background.
type Renderer interface {
	Render(ctx context.Context, c *challenge.Challenge) (*Rendered, error)
}

// Func adapts a function to the Renderer interface.
type Func func(ctx context.Context, c *challenge.Challenge) (*Rendered, error)

func (f Func) Render(ctx context.Context, c *challenge.Challenge) (*Rendered, error) {
	return f(ctx, c)
}
