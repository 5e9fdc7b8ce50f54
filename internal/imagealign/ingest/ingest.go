// Package ingest decodes ordinary images into the grayscale plane.Plane
// buffers the alignment core operates on.
package ingest

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/overmix/planealign/internal/imagealign/plane"
)

// Decode reads an image in any registered format (png, jpeg, gif) and
// converts it to a single-channel Plane, using the Rec. 601 luma weights via
// golang.org/x/image/draw's NRGBA conversion path.
func Decode(r io.Reader) (*plane.Plane, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: decode: %w", err)
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image.Image to a Plane, resampling through
// NRGBA so color model conversion is consistent regardless of the source's
// native model (paletted, YCbCr, etc).
func FromImage(img image.Image) *plane.Plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	p := plane.New(w, h)
	for y := 0; y < h; y++ {
		row := p.ScanLine(y)
		rowOff := y * nrgba.Stride
		for x := 0; x < w; x++ {
			i := rowOff + x*4
			r, g, bch := nrgba.Pix[i], nrgba.Pix[i+1], nrgba.Pix[i+2]
			// Rec. 601 luma, scaled from 8-bit input to the plane's 16-bit depth.
			luma := (299*uint32(r) + 587*uint32(g) + 114*uint32(bch)) / 1000
			row[x] = uint16(luma * plane.MaxVal / 255)
		}
	}
	return p
}

// ToImage converts a Plane back into a standard-library image, for encoding
// composite/rendered results (e.g. the average aligner's running mean) to
// PNG.
func ToImage(p *plane.Plane) *image.Gray16 {
	w, h := p.Width(), p.Height()
	out := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := p.ScanLine(y)
		for x := 0; x < w; x++ {
			out.SetGray16(x, y, color.Gray16{Y: row[x]})
		}
	}
	return out
}
