// Package plane implements the single-channel sample buffer and its
// pixel-difference primitive used by the alignment search.
package plane

import (
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sys/cpu"
)

// MaxVal is the largest representable sample value for the fixed 16-bit depth.
const MaxVal = 0xFFFF

// Plane is a width x height grid of 16-bit samples with a row stride that may
// exceed width, allowing padded rows. The zero value is not usable; construct
// with New.
type Plane struct {
	width  int
	height int
	stride int
	data   []uint16
}

// New allocates a Plane of the given dimensions. Contents are zero-initialized.
// Panics if width or height is not positive (programmer error).
func New(width, height int) *Plane {
	if width <= 0 || height <= 0 {
		panic("plane: width and height must be positive")
	}
	return &Plane{
		width:  width,
		height: height,
		stride: width,
		data:   make([]uint16, width*height),
	}
}

// NewStrided allocates a Plane with an explicit row stride, for callers that
// need padded rows (e.g. feeding a sub-rectangle of a larger buffer).
func NewStrided(width, height, stride int, data []uint16) *Plane {
	if width <= 0 || height <= 0 {
		panic("plane: width and height must be positive")
	}
	if stride < width {
		panic("plane: stride must be >= width")
	}
	if data == nil {
		data = make([]uint16, stride*height)
	}
	return &Plane{width: width, height: height, stride: stride, data: data}
}

func (p *Plane) Width() int  { return p.width }
func (p *Plane) Height() int { return p.height }
func (p *Plane) Stride() int { return p.stride }

// Pixel returns the sample at (x, y). Out-of-range coordinates are a
// programmer error; this indexes the backing slice directly and will panic.
func (p *Plane) Pixel(x, y int) uint16 {
	return p.data[y*p.stride+x]
}

// SetPixel writes the sample at (x, y).
func (p *Plane) SetPixel(x, y int, v uint16) {
	p.data[y*p.stride+x] = v
}

// ScanLine returns the row at y as a slice of stride samples; only the first
// width entries hold valid data.
func (p *Plane) ScanLine(y int) []uint16 {
	start := y * p.stride
	return p.data[start : start+p.stride]
}

// DiffVariant selects which pixel-difference metric Diff computes.
type DiffVariant int

const (
	// DiffPlain accumulates every absolute sample difference. This is the
	// default ("Variant A").
	DiffPlain DiffVariant = iota
	// DiffThresholded ignores differences below a dead-zone threshold of
	// ceil(10/255 * MaxVal), suppressing sensor-noise contributions
	// ("Variant B").
	DiffThresholded
)

// deadZoneThreshold is ceil(10/255 * MaxVal), the Variant B dead zone.
const deadZoneThreshold = (10*MaxVal + 254) / 255

func init() {
	// CPU-feature probe, logged for diagnostics only: the choice between the
	// row-parallel and scalar diff paths is made by parallelDiffThreshold,
	// and the arithmetic itself is plain scalar Go (see DESIGN.md).
	slog.Debug("plane diff kernel", "avx2", cpu.X86.HasAVX2, "neon", cpu.ARM64.HasASIMD)
}

// parallelDiffThreshold is the minimum number of sampled rows before Diff
// fans out across goroutines; below it the per-goroutine overhead would
// dominate the work.
const parallelDiffThreshold = 32

// Diff computes the mean absolute sample difference over the rectangle where
// self and other overlap when other is translated by (dx, dy) relative to
// self, sampling every stride-th row and column. Returns +Inf if there is no
// overlap. Rows are summed by commutative 64-bit integer addition so the
// parallel reduction is order-independent.
func (p *Plane) Diff(other *Plane, dx, dy int, stride int, variant DiffVariant) float64 {
	if stride < 1 {
		stride = 1
	}

	p1Top, p2Top := 0, 0
	if dy < 0 {
		p2Top = -dy
	} else {
		p1Top = dy
	}
	p1Left, p2Left := 0, 0
	if dx < 0 {
		p2Left = -dx
	} else {
		p1Left = dx
	}

	overlapW := min(p.width-p1Left, other.width-p2Left)
	overlapH := min(p.height-p1Top, other.height-p2Top)
	if overlapW <= 0 || overlapH <= 0 {
		return math.Inf(1)
	}

	// Rows/columns visited step by stride up to (not including) the overlap
	// edge, so the visited count is ceil(overlap/stride)...
	rowCount := (overlapH + stride - 1) / stride

	rowSum := func(i int) uint64 {
		row1 := p.ScanLine(p1Top+i)[p1Left:]
		row2 := other.ScanLine(p2Top+i)[p2Left:]
		return sumAbsDiffRow(row1, row2, overlapW, stride, variant)
	}

	var total uint64
	if rowCount >= parallelDiffThreshold {
		var wg sync.WaitGroup
		sums := make([]uint64, rowCount)
		for r := 0; r < rowCount; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				sums[r] = rowSum(r * stride)
			}(r)
		}
		wg.Wait()
		for _, s := range sums {
			total += s
		}
	} else {
		for r := 0; r < rowCount; r++ {
			total += rowSum(r * stride)
		}
	}

	// ...but the divisor uses floor(overlap/stride) per axis (this can
	// undercount relative to rowCount above; that mismatch is inherited
	// from the source algorithm, not a bug here).
	count := (overlapH / stride) * (overlapW / stride)
	return float64(total) / float64(count)
}

func sumAbsDiffRow(row1, row2 []uint16, overlapW, stride int, variant DiffVariant) uint64 {
	var sum uint64
	for j := 0; j < overlapW; j += stride {
		a, b := row1[j], row2[j]
		var d uint32
		if a > b {
			d = uint32(a - b)
		} else {
			d = uint32(b - a)
		}
		if variant == DiffThresholded && d <= deadZoneThreshold {
			continue
		}
		sum += uint64(d)
	}
	return sum
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
