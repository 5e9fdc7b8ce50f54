// Package memcontainer is an in-memory Container/Renderer pair for the
// imagealign core, grounded on the original ImageContainer/AnimRender split:
// frames belong to a group, positions and phases are per-frame, and pairwise
// comparisons are memoized so repeated pair queries (the animation
// separator's neighbor pass, then its greedy phase-assignment pass) don't
// re-run the hierarchical search.
package memcontainer

import (
	"context"
	"fmt"
	"sync"

	"github.com/overmix/planealign/internal/imagealign/align"
	"github.com/overmix/planealign/internal/imagealign/plane"
)

// Group is a named collection of frame indexes, mirroring ImageContainer's
// ImageGroup: frames are loaded as a flat sequence but can be tagged to the
// group they came from (e.g. one group per source folder).
type Group struct {
	Name    string
	Indexes []int
}

// frame is one entry in the flat, indexable sequence the core operates on.
type frame struct {
	image *plane.Plane
	pos   align.Offset
	phase int
	group int
}

// Container is a concrete, thread-safe align.Container; AverageRenderer is
// its align.Renderer counterpart.
type Container struct {
	Comparator align.Comparator

	mu     sync.Mutex
	frames []frame
	groups []Group

	cacheMu sync.Mutex
	cache   map[pairKey]align.ImageOffset
}

type pairKey struct{ i, j int }

// New returns an empty Container using comparator for pairwise comparisons.
func New(comparator align.Comparator) *Container {
	return &Container{
		Comparator: comparator,
		cache:      make(map[pairKey]align.ImageOffset),
	}
}

// Add appends img to the sequence under the given group name, creating the
// group if it doesn't already exist, and returns the new frame's index.
func (c *Container) Add(img *plane.Plane, group string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	gi := -1
	for i, g := range c.groups {
		if g.Name == group {
			gi = i
			break
		}
	}
	if gi < 0 {
		gi = len(c.groups)
		c.groups = append(c.groups, Group{Name: group})
	}

	idx := len(c.frames)
	c.frames = append(c.frames, frame{image: img, group: gi})
	c.groups[gi].Indexes = append(c.groups[gi].Indexes, idx)
	return idx
}

func (c *Container) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *Container) Image(i int) *plane.Plane {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i].image
}

func (c *Container) Pos(i int) align.Offset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i].pos
}

func (c *Container) SetPos(i int, p align.Offset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[i].pos = p
}

func (c *Container) SetFrame(i int, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[i].phase = phase
}

// Phase returns the phase tag last set by SetFrame (0 if never set).
func (c *Container) Phase(i int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i].phase
}

// Groups returns the groups frames were added under, in creation order.
func (c *Container) Groups() []Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Group, len(c.groups))
	copy(out, c.groups)
	return out
}

// FindOffset compares frames i and j with the container's comparator,
// memoizing by the ordered pair (i, j) so repeated lookups of the same pair
// (the animation separator's neighbor and phase passes) are free after the
// first. FindOffset(i, j) and FindOffset(j, i) are cached separately.
func (c *Container) FindOffset(ctx context.Context, i, j int) (align.ImageOffset, error) {
	key := pairKey{i, j}
	c.cacheMu.Lock()
	if v, ok := c.cache[key]; ok {
		c.cacheMu.Unlock()
		return v, nil
	}
	c.cacheMu.Unlock()

	img1, img2 := c.Image(i), c.Image(j)
	result, err := c.Comparator.FindOffset(ctx, img1, img2)
	if err != nil {
		return align.ImageOffset{}, fmt.Errorf("memcontainer: find offset %d/%d: %w", i, j, err)
	}

	c.cacheMu.Lock()
	c.cache[key] = result
	c.cacheMu.Unlock()
	return result, nil
}

// AverageRenderer builds the running mean of frames [0, upTo) at their
// current positions, used as the reference image for AverageAligner. It
// mirrors AnimRender's role of producing one rendered frame on demand rather
// than holding a persistent canvas.
type AverageRenderer struct{}

// Render returns the pixelwise mean of frames [0, upTo) in container,
// shifted to their recorded positions. The canvas spans the union of the
// placed frames' extents together with the origin; pixels no frame covers
// are 0.
func (AverageRenderer) Render(ctx context.Context, c align.Container, upTo int) (*plane.Plane, error) {
	if upTo <= 0 {
		return nil, fmt.Errorf("memcontainer: render requires at least one placed frame")
	}

	minX, minY := 0, 0
	maxX, maxY := 0, 0
	type placed struct {
		img  *plane.Plane
		x, y int
	}
	placements := make([]placed, 0, upTo)
	for i := 0; i < upTo; i++ {
		p := c.Pos(i)
		img := c.Image(i)
		placements = append(placements, placed{img: img, x: p.X, y: p.Y})
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if r := p.X + img.Width(); r > maxX {
			maxX = r
		}
		if b := p.Y + img.Height(); b > maxY {
			maxY = b
		}
	}

	w, h := maxX-minX, maxY-minY
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("memcontainer: render produced an empty canvas")
	}

	sum := make([][]uint32, h)
	count := make([][]uint16, h)
	for y := range sum {
		sum[y] = make([]uint32, w)
		count[y] = make([]uint16, w)
	}

	for _, pl := range placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ox, oy := pl.x-minX, pl.y-minY
		for sy := 0; sy < pl.img.Height(); sy++ {
			row := pl.img.ScanLine(sy)
			dy := oy + sy
			for sx := 0; sx < pl.img.Width(); sx++ {
				dx := ox + sx
				sum[dy][dx] += uint32(row[sx])
				count[dy][dx]++
			}
		}
	}

	out := plane.New(w, h)
	for y := 0; y < h; y++ {
		row := out.ScanLine(y)
		for x := 0; x < w; x++ {
			if count[y][x] > 0 {
				row[x] = uint16(sum[y][x] / uint32(count[y][x]))
			}
		}
	}
	return out, nil
}
