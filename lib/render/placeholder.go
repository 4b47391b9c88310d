package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/habuha/captcha/lib/challenge"
)

// Placeholder is a stand-in renderer for deployments that have not wired a
// real image synthesizer yet: flat backgrounds, solid gap masks, no glyph
// drawing or noise. It keeps the service runnable end to end; it is not meant
// to resist automated solvers.
type Placeholder struct{}

func (Placeholder) Render(_ context.Context, c *challenge.Challenge) (*Rendered, error) {
	switch {
	case c.SlidePuzzle != nil:
		return renderSlidePuzzle(c)
	case c.Arithmetic != nil:
		return flat(300, 100)
	case c.GlyphClick != nil:
		return flat(400, 200)
	default:
		return nil, fmt.Errorf("%w: challenge %s has no payload", ErrUnavailable, c.ID)
	}
}

func flat(w, h int) (*Rendered, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0xe0, G: 0xe0, B: 0xe8, A: 0xff}), image.Point{}, draw.Src)

	data, err := encode(img)
	if err != nil {
		return nil, err
	}

	return &Rendered{
		ContentType: "image/png",
		Assets:      map[string][]byte{KindBackground: data},
	}, nil
}

func renderSlidePuzzle(c *challenge.Challenge) (*Rendered, error) {
	p := c.SlidePuzzle

	bg := image.NewRGBA(image.Rect(0, 0, p.CanvasWidth, p.CanvasHeight))
	draw.Draw(bg, bg.Bounds(), image.NewUniform(color.RGBA{R: 0x88, G: 0xa8, B: 0xc8, A: 0xff}), image.Point{}, draw.Src)

	// both gaps get the same mask so nothing visual tells them apart
	mask := image.NewUniform(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0x80})
	for _, origin := range []image.Point{
		{X: p.Placement.TargetX, Y: p.Placement.TargetY},
		{X: p.Placement.DecoyX, Y: p.Placement.DecoyY},
	} {
		rect := image.Rect(origin.X, origin.Y, origin.X+p.GapWidth, origin.Y+p.GapHeight)
		draw.Draw(bg, rect, mask, image.Point{}, draw.Over)
	}

	overlay := image.NewRGBA(image.Rect(0, 0, p.GapWidth, p.GapHeight))
	draw.Draw(overlay, overlay.Bounds(), image.NewUniform(color.RGBA{R: 0x50, G: 0x70, B: 0x90, A: 0xff}), image.Point{}, draw.Src)

	bgData, err := encode(bg)
	if err != nil {
		return nil, err
	}
	overlayData, err := encode(overlay)
	if err != nil {
		return nil, err
	}

	return &Rendered{
		ContentType: "image/png",
		Assets: map[string][]byte{
			KindBackground: bgData,
			KindOverlay:    overlayData,
		},
	}, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return buf.Bytes(), nil
}
