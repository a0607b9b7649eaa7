package checkers

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// FuzzyMatcher decides whether two renderings are close enough that a
// checksum mismatch is only a minor difference.
type FuzzyMatcher struct {
	// ChannelTolerance is the largest per-channel difference, on an 8 bit
	// scale, that still counts as the same pixel
	ChannelTolerance uint8
	// PixelRatio is the largest fraction of differing pixels still considered fuzzy
	PixelRatio float64
}

// Compare decodes both PNGs and returns the fraction of pixels that differ by
// more than the channel tolerance. Images of different sizes differ entirely.
func (m *FuzzyMatcher) Compare(expected, actual []byte) (float64, error) {
	a, err := png.Decode(bytes.NewReader(expected))
	if err != nil {
		return 0, fmt.Errorf("failed to decode expected image: %w", err)
	}
	b, err := png.Decode(bytes.NewReader(actual))
	if err != nil {
		return 0, fmt.Errorf("failed to decode actual image: %w", err)
	}
	return m.diffRatio(a, b), nil
}

// Within reports whether a ratio returned by Compare is small enough
func (m *FuzzyMatcher) Within(ratio float64) bool {
	return ratio <= m.PixelRatio
}

func (m *FuzzyMatcher) diffRatio(a, b image.Image) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 1
	}
	total := ab.Dx() * ab.Dy()
	if total == 0 {
		return 0
	}

	differing := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if !m.samePixel([4]uint32{r1, g1, b1, a1}, [4]uint32{r2, g2, b2, a2}) {
				differing++
			}
		}
	}
	return float64(differing) / float64(total)
}

func (m *FuzzyMatcher) samePixel(p, q [4]uint32) bool {
	for i := range p {
		// RGBA returns 16 bit channels
		x, y := p[i]>>8, q[i]>>8
		d := x - y
		if y > x {
			d = y - x
		}
		if d > uint32(m.ChannelTolerance) {
			return false
		}
	}
	return true
}
