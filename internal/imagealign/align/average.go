package align

import (
	"context"
	"log/slog"
)

// AverageAligner fixes frame 0 at (0,0) and, for each subsequent frame,
// compares it against the running mean of the previously placed frames and
// records the accepted offset, rebased by the current minimum position.
//
// The rebasing is order-dependent by design: minPoint is the minimum over
// positions set so far, so recorded positions drift with it rather than
// being absolute. This behavior is reproduced verbatim for output
// compatibility with existing alignment traces.
type AverageAligner struct {
	Comparator Comparator
}

// Align runs the averaging alignment loop over container, using renderer to
// build the running reference and watcher for progress/cancellation.
// Cancellation leaves already-set positions intact.
func (a AverageAligner) Align(ctx context.Context, container Container, renderer Renderer, watcher ProcessWatcher) error {
	n := container.Count()
	if n == 0 {
		return nil
	}
	if watcher == nil {
		watcher = NullWatcher{}
	}

	watcher.SetTotal(n)
	container.SetPos(0, Offset{})

	for i := 1; i < n; i++ {
		if watcher.ShouldCancel() {
			return nil
		}
		watcher.SetCurrent(i)

		reference, err := renderer.Render(ctx, container, i)
		if err != nil {
			return err
		}

		offset, err := a.Comparator.FindOffset(ctx, reference, container.Image(i))
		if err != nil {
			slog.Error("average aligner: find offset failed", "frame", i, "error", err)
			return err
		}

		min := minPoint(container, i)
		container.SetPos(i, Offset{X: offset.Offset.X + min.X, Y: offset.Offset.Y + min.Y})
		watcher.Add()
	}
	return nil
}

// minPoint returns the component-wise minimum over positions already set on
// frames [0, uptoExclusive).
func minPoint(container Container, uptoExclusive int) Offset {
	min := container.Pos(0)
	for i := 1; i < uptoExclusive; i++ {
		p := container.Pos(i)
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
	}
	return min
}
