// Package search implements the hierarchical translation search: given two
// planes and a bounding offset rectangle, it locates the integer (h, v)
// translation that minimizes Plane.Diff, recursively subdividing the
// candidate grid and memoizing diffs in a DiffCache.
package search

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/overmix/planealign/internal/imagealign/plane"
)

// ErrNoOverlap is returned when a search rectangle yields no candidates at
// all (an empty bounding box).
var ErrNoOverlap = errors.New("search: no candidates in bounding rectangle")

// Point is an integer (x, y) translation.
type Point struct{ X, Y int }

// MergeResult is the outcome of one hierarchical search call: the best
// offset found and its diff value.
type MergeResult struct {
	Offset Point
	Diff   float64
}

// candidate mirrors the original img_comp: a transient search node carrying
// its own child-recursion bounds so the winner can recurse without
// recomputing geometry.
type candidate struct {
	x, y                   int
	level                  int
	left, right, top, bottom int
	precision               float64
	diff                     float64
	diffSet                  bool
}

// checkedCount returns the overlapping pixel count Plane.Diff would see for
// this candidate's (x, y) offset, used both to find max_checked and later to
// refine precision.
func checkedCount(img1, img2 *plane.Plane, x, y int) int {
	p1Top, p2Top := 0, 0
	if y < 0 {
		p2Top = -y
	} else {
		p1Top = y
	}
	p1Left, p2Left := 0, 0
	if x < 0 {
		p2Left = -x
	} else {
		p1Left = x
	}
	w := minInt(img1.Width()-p1Left, img2.Width()-p2Left)
	h := minInt(img1.Height()-p1Top, img2.Height()-p2Top)
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return w * h
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// roundHalfAwayFromZero implements the explicit rounding rule used by the
// hierarchical search: ix<0 ? ceil(ix-0.5) : floor(ix+0.5). math.Round
// already matches this for all finite inputs, but the literal form is kept
// for auditability against the original algorithm.
func roundHalfAwayFromZero(v float64) int {
	if v < 0 {
		return int(math.Ceil(v - 0.5))
	}
	return int(math.Floor(v + 0.5))
}

// BestRoundSub is the hierarchical search entry point. It recursively
// subdivides [left,right] x [top,bottom] around level, dispatches the diffs
// of one level's candidates in parallel, and recurses serially on the
// single best candidate until it bottoms out at level 0.
func BestRoundSub(img1, img2 *plane.Plane, level, left, right, top, bottom int, cache *plane.DiffCache, variant plane.DiffVariant) (MergeResult, error) {
	amount := level*2 + 2
	hOffset := float64(right-left) / float64(amount)
	vOffset := float64(bottom-top) / float64(amount)
	childLevel := level - 1
	if childLevel < 1 {
		childLevel = 1
	}

	var comps []candidate

	if hOffset < 1 && vOffset < 1 {
		for iy := top; iy <= bottom; iy++ {
			for ix := left; ix <= right; ix++ {
				c := candidate{x: ix, y: iy, level: 0}
				if d, ok := cache.Lookup(ix, iy, 1); ok {
					c.diff, c.diffSet = d, true
				}
				comps = append(comps, c)
			}
		}
	} else {
		hAdd := hOffset
		if hAdd < 1 {
			hAdd = 1
		}
		vAdd := vOffset
		if vAdd < 1 {
			vAdd = 1
		}

		precision := math.Sqrt(math.Min(hOffset, vOffset))

		for iy := float64(top) + vOffset; iy <= float64(bottom); iy += vAdd {
			for ix := float64(left) + hOffset; ix <= float64(right); ix += hAdd {
				x := roundHalfAwayFromZero(ix)
				y := roundHalfAwayFromZero(iy)

				if (x == right && x != left) || (y == bottom && y != top) {
					continue
				}

				c := candidate{
					x: x, y: y,
					level:     childLevel,
					left:      int(math.Floor(ix - hOffset)),
					right:     int(math.Ceil(ix + hOffset)),
					top:       int(math.Floor(iy - vOffset)),
					bottom:    int(math.Ceil(iy + vOffset)),
					precision: precision,
				}
				if d, ok := cache.Lookup(x, y, int(math.Round(precision))); ok {
					c.diff, c.diffSet = d, true
				}
				comps = append(comps, c)
			}
		}
	}

	if len(comps) == 0 {
		slog.Error("hierarchical search: no candidates in bounding rectangle", "left", left, "right", right, "top", top, "bottom", bottom)
		return MergeResult{Offset: Point{}, Diff: math.Inf(1)}, ErrNoOverlap
	}

	// Refine precision: candidates with smaller overlap get a finer stride
	// so their sampled count stays comparable to the rest. Only meaningful
	// in the subdivision branch; trivial-base candidates keep precision 0
	// (interpreted as stride 1 below).
	if hOffset >= 1 || vOffset >= 1 {
		maxChecked := 0
		for _, c := range comps {
			if n := checkedCount(img1, img2, c.x, c.y); n > maxChecked {
				maxChecked = n
			}
		}
		for i := range comps {
			checked := checkedCount(img1, img2, comps[i].x, comps[i].y)
			if checked > 0 && checked < maxChecked {
				comps[i].precision = math.Max(comps[i].precision/(float64(maxChecked)/float64(checked)), 1.0)
			} else if comps[i].precision < 1 {
				comps[i].precision = 1
			}
		}
	}

	// Dispatch uncomputed candidates in parallel; the reduction below only
	// reads per-candidate fields, so no mutex is needed across goroutines.
	var wg sync.WaitGroup
	for i := range comps {
		if comps[i].diffSet {
			continue
		}
		wg.Add(1)
		go func(c *candidate) {
			defer wg.Done()
			stride := int(math.Round(c.precision))
			if stride < 1 {
				stride = 1
			}
			c.diff = img1.Diff(img2, c.x, c.y, stride, variant)
		}(&comps[i])
	}
	wg.Wait()

	bestIdx := -1
	bestDiff := math.Inf(1)
	for i, c := range comps {
		if c.diff < bestDiff {
			bestDiff = c.diff
			bestIdx = i
		}
		if !c.diffSet {
			cache.Store(c.x, c.y, c.diff, maxInt(int(math.Round(c.precision)), 1))
		}
	}

	best := comps[bestIdx]
	if best.level > 0 {
		return BestRoundSub(img1, img2, best.level, best.left, best.right, best.top, best.bottom, cache, variant)
	}
	return MergeResult{Offset: Point{X: best.x, Y: best.y}, Diff: best.diff}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
