package classify

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

const skinSampleSize = 64

// SkinRatio reports the fraction of pixels that look like skin tone, a cheap
// secondary signal independent of the ML classifier. The frame is downscaled
// first so cost stays constant regardless of resolution.
func SkinRatio(frame image.Image) float64 {
	small := image.NewRGBA(image.Rect(0, 0, skinSampleSize, skinSampleSize))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), frame, frame.Bounds(), xdraw.Src, nil)

	var skin, total int
	b := small.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := small.At(x, y).RGBA()
			if isSkin(uint8(r>>8), uint8(g>>8), uint8(bl>>8)) {
				skin++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(skin) / float64(total)
}

// isSkin applies the classic RGB skin-tone rule.
func isSkin(r, g, b uint8) bool {
	if r <= 95 || g <= 40 || b <= 20 {
		return false
	}
	maxC := max3(r, g, b)
	minC := min3(r, g, b)
	if maxC-minC <= 15 {
		return false
	}
	diff := int(r) - int(g)
	if diff < 0 {
		diff = -diff
	}
	return diff > 15 && r > g && r > b
}

func max3(a, b, c uint8) uint8 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c uint8) uint8 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
