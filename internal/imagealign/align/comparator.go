package align

import (
	"context"

	"github.com/overmix/planealign/internal/imagealign/plane"
	"github.com/overmix/planealign/internal/imagealign/search"
)

// Method constrains which axes the search is allowed to move the second
// image along.
type Method int

const (
	Free Method = iota
	Horizontal
	Vertical
)

// Comparator drives the hierarchical search with method/axis constraints, a
// starting level, and a convergence threshold.
type Comparator struct {
	Method        Method
	Movement      float64 // in [0,1]; 1.0 is unconstrained
	StartLevel    int
	MaxLevel      int
	MaxDifference float64
	FastDiffing   bool // true selects plane.DiffPlain, false plane.DiffThresholded
}

// NewComparator returns a Comparator with typical defaults: unconstrained
// free movement and plain (Variant A) diffing.
func NewComparator() Comparator {
	return Comparator{
		Method:        Free,
		Movement:      1.0,
		StartLevel:    1,
		MaxLevel:      6,
		MaxDifference: 0,
		FastDiffing:   true,
	}
}

func (c Comparator) diffVariant() plane.DiffVariant {
	if c.FastDiffing {
		return plane.DiffPlain
	}
	return plane.DiffThresholded
}

// FindOffset searches for the translation that best aligns img2 onto img1,
// escalating the search level until the result satisfies MaxDifference or
// MaxLevel is exhausted, in which case the best-seen result is returned.
func (c Comparator) FindOffset(ctx context.Context, img1, img2 *plane.Plane) (ImageOffset, error) {
	moveX, moveY := 1.0, 1.0
	if c.Method == Vertical {
		moveX = 0
	}
	if c.Method == Horizontal {
		moveY = 0
	}
	moveX *= c.Movement
	moveY *= c.Movement

	left := int((1 - float64(img2.Width())) * moveX)
	right := int((float64(img1.Width()) - 1) * moveX)
	top := int((1 - float64(img2.Height())) * moveY)
	bottom := int((float64(img1.Height()) - 1) * moveY)

	cache := plane.NewDiffCache()
	level := c.StartLevel
	if level < 1 {
		level = 1
	}

	var best search.MergeResult
	haveBest := false
	var err error
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ImageOffset{}, ctxErr
		}

		var result search.MergeResult
		result, err = search.BestRoundSub(img1, img2, level, left, right, top, bottom, cache, c.diffVariant())
		if err != nil {
			break
		}
		if !haveBest || result.Diff < best.Diff {
			best, haveBest = result, true
		}
		if result.Diff <= c.MaxDifference || level >= c.MaxLevel {
			break
		}
		level++
	}
	if err != nil {
		return ImageOffset{}, err
	}

	offset := Offset{X: best.Offset.X, Y: best.Offset.Y}
	return ImageOffset{
		Offset:       offset,
		Error:        best.Diff,
		OverlapRatio: overlapRatio(offset, img1, img2),
	}, nil
}

// overlapRatio computes the overlapping pixel area of img2 translated by
// offset onto img1, divided by img1's pixel count, using the same geometry
// as Plane.Diff.
func overlapRatio(offset Offset, img1, img2 *plane.Plane) float64 {
	p1Left, p2Left := 0, 0
	if offset.X < 0 {
		p2Left = -offset.X
	} else {
		p1Left = offset.X
	}
	p1Top, p2Top := 0, 0
	if offset.Y < 0 {
		p2Top = -offset.Y
	} else {
		p1Top = offset.Y
	}

	w := img1.Width() - p1Left
	if alt := img2.Width() - p2Left; alt < w {
		w = alt
	}
	h := img1.Height() - p1Top
	if alt := img2.Height() - p2Top; alt < h {
		h = alt
	}
	if w <= 0 || h <= 0 {
		return 0
	}

	area := float64(img1.Width()) * float64(img1.Height())
	if area == 0 {
		return 0
	}
	return float64(w) * float64(h) / area
}
