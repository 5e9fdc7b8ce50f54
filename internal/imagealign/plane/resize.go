package plane

import (
	"math"
	"sync"
)

// Filter is a 1D resampling kernel, zero outside its support.
type Filter func(x float64) float64

// Linear is the triangle (bilinear) filter: max(0, 1-|x|).
func Linear(x float64) float64 {
	x = math.Abs(x)
	if x <= 1.0 {
		return 1 - x
	}
	return 0
}

// Cubic returns the Mitchell-Netravali filter for the given (b, c)
// parameters, piecewise-cubic on |x| < 1 and 1 <= |x| < 2, zero beyond.
func Cubic(b, c float64) Filter {
	return func(x float64) float64 {
		x = math.Abs(x)
		switch {
		case x < 1:
			return ((12-9*b-6*c)*x*x*x + (-18+12*b+6*c)*x*x + (6 - 2*b)) / 6
		case x < 2:
			return ((-b-6*c)*x*x*x + (6*b+30*c)*x*x + (-12*b-48*c)*x + (8*b + 24*c)) / 6
		default:
			return 0
		}
	}
}

// ScaleNearest resamples to wantedWidth x wantedHeight using nearest-neighbor
// sampling. Undefined (will panic on divide-by-zero precursors) if either
// target dimension is below 2.
func (p *Plane) ScaleNearest(wantedWidth, wantedHeight int) *Plane {
	out := New(wantedWidth, wantedHeight)
	for iy := 0; iy < wantedHeight; iy++ {
		posY := float64(iy) * float64(p.height-1) / float64(wantedHeight-1)
		srcY := int(math.Round(posY))
		row := out.ScanLine(iy)
		for ix := 0; ix < wantedWidth; ix++ {
			posX := float64(ix) * float64(p.width-1) / float64(wantedWidth-1)
			srcX := int(math.Round(posX))
			row[ix] = p.Pixel(srcX, srcY)
		}
	}
	return out
}

// scalePoint holds the precomputed source window and per-sample weights for
// one destination coordinate along one axis.
type scalePoint struct {
	start   int
	weights []float64
}

func newScalePoint(index, srcLen, wantedLen int, window float64, f Filter) scalePoint {
	pos := float64(index) / float64(wantedLen-1) * float64(srcLen-1)
	start := int(math.Ceil(pos - window))
	if start < 0 {
		start = 0
	}
	end := int(math.Floor(pos + window))
	if end > srcLen-1 {
		end = srcLen - 1
	}
	weights := make([]float64, 0, end-start+1)
	for j := start; j <= end; j++ {
		weights = append(weights, f(pos-float64(j)))
	}
	return scalePoint{start: start, weights: weights}
}

// ScaleGeneric resamples to wantedWidth x wantedHeight using a separable
// filter kernel with the given source-pixel-unit window radius. Rows are
// resampled in parallel when wantedHeight is at least parallelDiffThreshold,
// serially otherwise.
func (p *Plane) ScaleGeneric(wantedWidth, wantedHeight int, window float64, f Filter) *Plane {
	out := New(wantedWidth, wantedHeight)

	columns := make([]scalePoint, wantedWidth)
	for ix := 0; ix < wantedWidth; ix++ {
		columns[ix] = newScalePoint(ix, p.width, wantedWidth, window, f)
	}

	doRow := func(iy int) {
		rowPoint := newScalePoint(iy, p.height, wantedHeight, window, f)
		out_ := out.ScanLine(iy)
		for ix, col := range columns {
			var sum, weightSum float64
			for wy, vy := range rowPoint.weights {
				srcRow := p.ScanLine(rowPoint.start + wy)
				for wx, vx := range col.weights {
					weight := vy * vx
					sum += float64(srcRow[col.start+wx]) * weight
					weightSum += weight
				}
			}
			if weightSum != 0 {
				v := sum/weightSum + 0.5
				if v < 0 {
					v = 0
				}
				if v > MaxVal {
					v = MaxVal
				}
				out_[ix] = uint16(v)
			} else {
				out_[ix] = 0
			}
		}
	}

	if wantedHeight >= parallelDiffThreshold {
		var wg sync.WaitGroup
		for iy := 0; iy < wantedHeight; iy++ {
			wg.Add(1)
			go func(iy int) {
				defer wg.Done()
				doRow(iy)
			}(iy)
		}
		wg.Wait()
	} else {
		for iy := 0; iy < wantedHeight; iy++ {
			doRow(iy)
		}
	}

	return out
}
