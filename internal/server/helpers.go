package server

import (
	"image"
	"image/color"
	"math"
)

// cropGray16 returns the top-left w x h region of img.
func cropGray16(img *image.Gray16, w, h int) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray16(x, y, img.Gray16At(x, y))
		}
	}
	return out
}

// computeDiffImage creates a false-color visualization of the per-pixel
// difference between two same-sized grayscale images: black where they
// agree, red where they diverge.
func computeDiffImage(ref, best *image.Gray16) *image.NRGBA {
	bounds := ref.Bounds()
	diff := image.NewNRGBA(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			d := int(ref.Gray16At(x, y).Y) - int(best.Gray16At(x, y).Y)
			if d < 0 {
				d = -d
			}
			normalized := uint8(math.Min(255, float64(d)/257.0))
			diff.Set(x, y, color.NRGBA{R: normalized, A: 255})
		}
	}

	return diff
}
