// Package align implements the pairwise comparator, the average aligner,
// and the animation separator on top of the hierarchical search in package
// search. The Container, Renderer, and ProcessWatcher interfaces are the
// core's external collaborators; this package only depends on them, it
// never implements a file-backed version (see memcontainer for a concrete
// reference implementation used by tests and the CLI).
package align

import (
	"context"

	"github.com/overmix/planealign/internal/imagealign/plane"
)

// Offset is an (x, y) integer translation.
type Offset struct{ X, Y int }

// ImageOffset is the result of comparing two images: the translation that
// best aligns the second onto the first, its error (lower is better), and
// the fraction of the first image's area that participated in the overlap.
type ImageOffset struct {
	Offset       Offset
	Error        float64
	OverlapRatio float64
}

// Container is the ordered sequence of frames the core aligns. Groups are
// not modeled here; the core only ever touches a flat, indexable sequence,
// though a container implementation may still group frames internally.
type Container interface {
	Count() int
	Image(i int) *plane.Plane
	Pos(i int) Offset
	SetPos(i int, p Offset)
	SetFrame(i int, phase int)
	// FindOffset compares frames i and j, memoizing the result if the
	// implementation chooses to.
	FindOffset(ctx context.Context, i, j int) (ImageOffset, error)
}

// Renderer produces the running mean of the frames placed at container
// indices [0, upTo).
type Renderer interface {
	Render(ctx context.Context, container Container, upTo int) (*plane.Plane, error)
}

// ProcessWatcher receives coarse-grained progress updates and is polled for
// cooperative cancellation between frames or iterations.
type ProcessWatcher interface {
	SetTotal(n int)
	SetCurrent(i int)
	Add()
	ShouldCancel() bool
}

// NullWatcher is a ProcessWatcher that never cancels and ignores progress.
type NullWatcher struct{}

func (NullWatcher) SetTotal(int)      {}
func (NullWatcher) SetCurrent(int)    {}
func (NullWatcher) Add()              {}
func (NullWatcher) ShouldCancel() bool { return false }
