package challenge

import (
	"time"

	"github.com/habuha/captcha/lib/geometry"
	"github.com/habuha/captcha/lib/trajectory"
)

// Challenge is the session-side record of a single issued challenge. The
// payload for the issued variant is set, the other two are nil. Records are
// stored JSON-encoded and removed on any terminal verification outcome.
type Challenge struct {
	ID           string        `json:"id"`           // UUID identifying the challenge
	Variant      string        `json:"variant"`      // which registered variant issued it
	IssuedAt     time.Time     `json:"issuedAt"`     // when the challenge was issued
	ExpiresAfter time.Duration `json:"expiresAfter"` // how long it stays valid

	Arithmetic  *ArithmeticPayload  `json:"arithmetic,omitempty"`
	GlyphClick  *GlyphClickPayload  `json:"glyphClick,omitempty"`
	SlidePuzzle *SlidePuzzlePayload `json:"slidePuzzle,omitempty"`
}

// Expired reports whether the challenge's deadline has passed. IssuedAt plus
// ExpiresAfter is the sole expiry authority; there is no "used" flag because
// a record is deleted on use.
func (c *Challenge) Expired(now time.Time) bool {
	return now.Sub(c.IssuedAt) > c.ExpiresAfter
}

// ArithmeticPayload is the secret side of an arithmetic challenge.
type ArithmeticPayload struct {
	Expression     string `json:"expression"`     // what gets drawn, e.g. "17 + 4 = ?"
	ExpectedAnswer string `json:"expectedAnswer"` // decimal string
}

// HitRegion is one glyph's clickable area, identified by its center.
type HitRegion struct {
	Glyph   string `json:"glyph"`
	CenterX int    `json:"centerX"`
	CenterY int    `json:"centerY"`
}

// GlyphClickPayload is the secret side of a glyph click challenge.
type GlyphClickPayload struct {
	// ExpectedOrder is the sequence of glyphs the user must click, in order.
	ExpectedOrder []string `json:"expectedOrder"`

	// HitRegions are the glyphs in their shuffled on-canvas placement.
	HitRegions []HitRegion `json:"hitRegions"`

	// Tolerance is the half-width of each hit region in pixels.
	Tolerance int `json:"tolerance"`
}

// SlidePuzzlePayload is the secret side of a slide puzzle challenge. The
// placement coordinates never leave the server; the client only ever sees the
// rendered pixels.
type SlidePuzzlePayload struct {
	Placement    geometry.Placement `json:"placement"`
	CanvasWidth  int                `json:"canvasWidth"`
	CanvasHeight int                `json:"canvasHeight"`
	GapWidth     int                `json:"gapWidth"`
	GapHeight    int                `json:"gapHeight"`
}

// Submission is what the client sends to Verify. Only the fields for the
// challenge's variant are consulted.
type Submission struct {
	Answer     string              `json:"answer,omitempty"`     // arithmetic
	Clicks     []string            `json:"clicks,omitempty"`     // glyphclick, in click order
	FinalX     int                 `json:"finalX"`               // slidepuzzle, slider end position
	Trajectory []trajectory.Sample `json:"trajectory,omitempty"` // pointer motion during the gesture
}

// RenderPayload is the non-secret part of an issue response: everything the
// client needs to draw the challenge, and nothing it could solve with.
type RenderPayload struct {
	Prompt       string `json:"prompt,omitempty"` // glyphclick: glyphs to find, in order
	CanvasWidth  int    `json:"canvasWidth,omitempty"`
	CanvasHeight int    `json:"canvasHeight,omitempty"`
	GapWidth     int    `json:"gapWidth,omitempty"`
	GapHeight    int    `json:"gapHeight,omitempty"`

	// Assets names the image kinds that can be fetched for this challenge.
	Assets []string `json:"assets,omitempty"`
}
