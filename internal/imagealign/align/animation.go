package align

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

// AnimationSeparator partitions a sequence of frames into animation phases
// by picking an automatic error threshold from pairwise neighbor errors and
// then greedily grouping frames whose error to the last-included frame of
// the current phase stays under that threshold.
type AnimationSeparator struct {
	// ThresholdFactor multiplies the automatically chosen threshold.
	// Zero is treated as 1.0.
	ThresholdFactor float64
	// Trace, if non-nil, receives a CSV dump of errors_raw, errors_sorted,
	// and the chosen threshold, mirroring errors.csv from the original
	// animation separator.
	Trace io.Writer
}

// Separate tags every frame in container with a phase via SetFrame. If
// cancelled early, frames not yet assigned keep their prior tag.
func (a AnimationSeparator) Separate(ctx context.Context, container Container, watcher ProcessWatcher) error {
	if watcher == nil {
		watcher = NullWatcher{}
	}
	n := container.Count()
	watcher.SetTotal(n * 2)
	if n == 0 {
		return nil
	}

	threshold, err := a.findThreshold(ctx, container, watcher)
	if err != nil {
		return err
	}

	factor := a.ThresholdFactor
	if factor == 0 {
		factor = 1.0
	}
	threshold *= factor

	backlog := make([]int, n)
	for i := range backlog {
		backlog[i] = i
	}
	assigned := make([]bool, n)

	for iteration := 0; ; iteration++ {
		if watcher.ShouldCancel() {
			return nil
		}

		var last = -1
		haveLast := false
		count := 0

		for _, idx := range backlog {
			if assigned[idx] {
				continue
			}
			include := !haveLast
			if haveLast {
				off, err := container.FindOffset(ctx, last, idx)
				if err != nil {
					return err
				}
				include = off.Error < threshold
			}
			if include {
				assigned[idx] = true
				container.SetFrame(idx, iteration)
				last = idx
				haveLast = true
				count++
				watcher.Add()
			}
		}

		if count == 0 {
			break
		}
	}
	return nil
}

// findThreshold computes pairwise neighbor errors and picks the midpoint of
// the sorted-gap pair that maximizes the number of sign changes of
// errorsRaw[j] > midpoint, with ties won by the largest midpoint.
func (a AnimationSeparator) findThreshold(ctx context.Context, container Container, watcher ProcessWatcher) (float64, error) {
	n := container.Count()
	errorsRaw := make([]float64, 0, n-1)
	for i := 0; i < n-1; i++ {
		if watcher.ShouldCancel() {
			break
		}
		off, err := container.FindOffset(ctx, i, i+1)
		if err != nil {
			return 0, err
		}
		errorsRaw = append(errorsRaw, off.Error)
		watcher.Add()
	}

	errorsSorted := append([]float64(nil), errorsRaw...)
	sort.Float64s(errorsSorted)

	var longest float64
	var threshold float64

	for i := 1; i < len(errorsSorted); i++ {
		mid := (errorsSorted[i]-errorsSorted[i-1])/2 + errorsSorted[i-1]

		amount := 0
		below := false
		for _, e := range errorsRaw {
			current := e > mid
			if current != below {
				amount++
			}
			below = current
		}
		if float64(amount) >= longest {
			longest = float64(amount)
			threshold = mid
		}
	}

	if a.Trace != nil {
		a.writeTrace(errorsRaw, errorsSorted, threshold)
	}
	watcher.Add()

	return threshold, nil
}

func (a AnimationSeparator) writeTrace(errorsRaw, errorsSorted []float64, threshold float64) {
	w := csv.NewWriter(a.Trace)
	defer w.Flush()
	w.Write([]string{"errors_raw", "errors_sorted", "threshold"})
	n := len(errorsRaw)
	for i := 0; i < n; i++ {
		w.Write([]string{
			fmt.Sprintf("%g", errorsRaw[i]),
			fmt.Sprintf("%g", errorsSorted[i]),
			fmt.Sprintf("%g", threshold),
		})
	}
}
