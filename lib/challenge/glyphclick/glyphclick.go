// Package glyphclick implements the click-the-glyphs-in-order challenge
// variant. Four glyphs are drawn scattered on a canvas; the prompt names them
// in an order, and the user must click them in that order.
package glyphclick

import (
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strings"

	chall "github.com/habuha/captcha/lib/challenge"
	"github.com/habuha/captcha/lib/trajectory"
)

func init() {
	chall.Register("glyphclick", &Impl{
		CanvasWidth:  400,
		CanvasHeight: 200,
		GlyphSize:    27,
		GlyphCount:   4,
		MinSamples:   3,
		MinElapsedMs: 1000,
	})
}

// glyphs is the pool the prompt is drawn from. CJK glyphs resist OCR better
// than latin digits at the noise levels the renderer uses.
const glyphs = "的一是在不了有和人这中大为上个国我以要他时来用们生到作地于出就分对成会可主发年动同工也能下过子说产种面而方后多定行学法所民得经十三之进着等部度家电力里如水化高自二理起小物现实加量都两体制机当使点从业本去把性好应开它合还因由其些然前外天政四日那社义事平形相全表间样与关各重新线内数正心反你明看原又么利比或但质气第向道命此变条只没结解问意建月公无系军很情者最立代想已通并提直题党程展五果料象员革位入常文总次品式活设及管特件长求老头基资边流路级少图山统接知较将组见计别她手角期根论运农指几九区强放决西被干做必战先回则任取据处队南给色光门即保治北造百规热领七海口东导器压志世金增争济阶油思术极交受联什认六共权收证改清己美再采转更单风切打白教速花带安场身车例真务具万每目至达走积示议声报斗完类八离华名确才科张信马节话米整空元况今集温传土许步群广石记需段研界拉林律叫且究观越织装影算低持音众书布复容儿须际商非验连断深难近矿千周委素技备半办青省列习响约支般史感劳便团往酸历市克何除消构府称太准精值号率族维划选标写存候毛亲快效斯院查江型眼王按格养易置派层片始却专状育厂京识适属圆包火住调满县局照参红细引听该铁价严"

type Impl struct {
	CanvasWidth  int
	CanvasHeight int
	GlyphSize    int
	GlyphCount   int

	// MinSamples and MinElapsedMs are the liveness floor: a verify with fewer
	// trajectory samples or a faster gesture fails regardless of whether the
	// clicks were right.
	MinSamples   int
	MinElapsedMs int64
}

func (i *Impl) Issue(lg *slog.Logger, rng *rand.Rand, c *chall.Challenge) (chall.RenderPayload, error) {
	pool := []rune(glyphs)
	picked := make([]string, 0, i.GlyphCount)
	for _, idx := range rng.Perm(len(pool))[:i.GlyphCount] {
		picked = append(picked, string(pool[idx]))
	}

	// placement order is shuffled independently of prompt order, so the
	// on-canvas left-to-right order gives nothing away
	placed := slices.Clone(picked)
	rng.Shuffle(len(placed), func(a, b int) {
		placed[a], placed[b] = placed[b], placed[a]
	})

	regions := make([]chall.HitRegion, len(placed))
	for n, glyph := range placed {
		regions[n] = chall.HitRegion{
			Glyph:   glyph,
			CenterX: 50 + n*80 + rng.Intn(51),
			CenterY: 50 + rng.Intn(i.CanvasHeight-100+1),
		}
	}

	c.GlyphClick = &chall.GlyphClickPayload{
		ExpectedOrder: picked,
		HitRegions:    regions,
		Tolerance:     i.GlyphSize,
	}

	return chall.RenderPayload{
		Prompt:       strings.Join(picked, " "),
		CanvasWidth:  i.CanvasWidth,
		CanvasHeight: i.CanvasHeight,
		Assets:       []string{"background"},
	}, nil
}

func (i *Impl) Verify(lg *slog.Logger, c *chall.Challenge, sub *chall.Submission) error {
	if c.GlyphClick == nil {
		return chall.NewError("verify", "invalid_state", fmt.Errorf("%w: glyphclick payload", chall.ErrMissingField))
	}

	if len(sub.Trajectory) < i.MinSamples {
		return chall.NewError("verify", "robotic", fmt.Errorf("%w: %d trajectory samples, want at least %d", chall.ErrFailed, len(sub.Trajectory), i.MinSamples))
	}

	elapsed := trajectory.Duration(sub.Trajectory)
	if elapsed < i.MinElapsedMs {
		return chall.NewError("verify", "robotic", fmt.Errorf("%w: gesture took %dms, want at least %dms", chall.ErrFailed, elapsed, i.MinElapsedMs))
	}

	if !slices.Equal(sub.Clicks, c.GlyphClick.ExpectedOrder) {
		return chall.NewError("verify", "wrong_order", fmt.Errorf("%w: wanted %v but got %v", chall.ErrFailed, c.GlyphClick.ExpectedOrder, sub.Clicks))
	}

	chall.TimeTaken.WithLabelValues(c.Variant).Observe(float64(elapsed))

	return nil
}

// CheckClick hit-tests one click against the challenge's regions, returning
// the glyph it landed on. The front end uses this to echo progress during the
// gesture; it never consumes the challenge.
func CheckClick(c *chall.Challenge, x, y int) (chall.HitRegion, bool) {
	if c.GlyphClick == nil {
		return chall.HitRegion{}, false
	}

	for _, region := range c.GlyphClick.HitRegions {
		if abs(x-region.CenterX) <= c.GlyphClick.Tolerance && abs(y-region.CenterY) <= c.GlyphClick.Tolerance {
			return region, true
		}
	}

	return chall.HitRegion{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
