// Package geometry simplifies oversized polygons returned by the geocoder.
//
// Distances are planar in the input's coordinate space. For geographic input
// the tolerance is therefore in degrees, which is not uniform on the ground
// (a degree of longitude shrinks towards the poles).
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s2"
)

// Polygon holds GeoJSON polygon coordinates: rings of [lon, lat, ...] positions.
// Ring 0 is the outer ring; rings are closed (last position == first).
type Polygon [][][]float64

const (
	DefaultVertexThreshold = 100
	DefaultTolerance       = 0.01

	// tolerance is halved this many times before giving up and returning the input
	maxAttempts = 8
)

type Options struct {
	VertexThreshold int
	Tolerance       float64
	// HighQuality skips the radial-distance pre-pass.
	HighQuality bool
}

func DefaultOptions() Options {
	return Options{VertexThreshold: DefaultVertexThreshold, Tolerance: DefaultTolerance}
}

// SimplifyIfNeeded returns p unchanged when its outer ring has at most
// VertexThreshold positions, otherwise a simplified copy.
func SimplifyIfNeeded(p Polygon, opts Options) Polygon {
	if opts.VertexThreshold <= 0 {
		opts.VertexThreshold = DefaultVertexThreshold
	}
	if len(p) == 0 || len(p[0]) <= opts.VertexThreshold {
		return p
	}
	return Simplify(p, opts.Tolerance, opts.HighQuality)
}

// Simplify runs Douglas-Peucker on every ring. If the result is not a valid
// simple polygon the tolerance is halved and it tries again; when no attempt
// is valid the input is returned as is.
func Simplify(p Polygon, tolerance float64, highQuality bool) Polygon {
	if len(p) == 0 || tolerance <= 0 {
		return p
	}
	tol := tolerance
	for range maxAttempts {
		out := simplifyPolygon(p, tol, highQuality)
		if out != nil && valid(out) {
			return out
		}
		tol /= 2
	}
	return p
}

func simplifyPolygon(p Polygon, tol float64, highQuality bool) Polygon {
	out := make(Polygon, 0, len(p))
	for i, ring := range p {
		s := simplifyRing(ring, tol, highQuality)
		if len(s) < 4 {
			if i == 0 {
				return nil
			}
			// collapsed hole
			continue
		}
		out = append(out, s)
	}
	return out
}

// simplifyRing returns a closed ring. Kept positions are copies of the input
// positions so extra ordinates survive.
func simplifyRing(ring [][]float64, tol float64, highQuality bool) [][]float64 {
	idx := openRing(ring)
	if len(idx) < 3 {
		return cloneRing(ring)
	}
	pts := make([]r2.Point, len(idx))
	for i, k := range idx {
		pts[i] = r2.Point{X: ring[k][0], Y: ring[k][1]}
	}

	keep := make([]int, 0, len(idx))
	if highQuality {
		for i := range idx {
			keep = append(keep, i)
		}
	} else {
		keep = radialKeep(pts, tol*tol)
	}
	if len(keep) < 3 {
		return nil
	}

	sub := make([]r2.Point, len(keep))
	for i, k := range keep {
		sub[i] = pts[k]
	}

	// split at the vertex farthest from the start so neither half is a
	// closed loop with coincident endpoints
	far := 0
	best := -1.0
	for i := 1; i < len(sub); i++ {
		if d := sub[i].Sub(sub[0]).Norm(); d > best {
			best, far = d, i
		}
	}
	seq := append(append([]r2.Point(nil), sub...), sub[0])
	marks := make([]bool, len(seq))
	marks[0], marks[far], marks[len(seq)-1] = true, true, true
	douglasPeucker(seq, 0, far, tol*tol, marks)
	douglasPeucker(seq, far, len(seq)-1, tol*tol, marks)

	out := make([][]float64, 0, len(seq))
	for i := 0; i < len(seq)-1; i++ {
		if marks[i] {
			out = append(out, clonePos(ring[idx[keep[i]]]))
		}
	}
	out = append(out, clonePos(out[0]))
	return out
}

// douglasPeucker marks the vertices of pts[first..last] to keep, using an
// explicit stack instead of recursion.
func douglasPeucker(pts []r2.Point, first, last int, sqTol float64, marks []bool) {
	type span struct{ a, b int }
	stack := []span{{first, last}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.b-s.a < 2 {
			continue
		}
		maxD, idx := -1.0, -1
		for i := s.a + 1; i < s.b; i++ {
			if d := sqSegDist(pts[i], pts[s.a], pts[s.b]); d > maxD {
				maxD, idx = d, i
			}
		}
		if maxD > sqTol {
			marks[idx] = true
			stack = append(stack, span{s.a, idx}, span{idx, s.b})
		}
	}
}

// radialKeep drops vertices closer than the tolerance to the last kept one.
func radialKeep(pts []r2.Point, sqTol float64) []int {
	keep := []int{0}
	prev := pts[0]
	for i := 1; i < len(pts); i++ {
		d := pts[i].Sub(prev)
		if d.Dot(d) > sqTol {
			keep = append(keep, i)
			prev = pts[i]
		}
	}
	return keep
}

// squared distance from p to segment ab
func sqSegDist(p, a, b r2.Point) float64 {
	ab := b.Sub(a)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		d := p.Sub(a)
		return d.Dot(d)
	}
	t := p.Sub(a).Dot(ab) / l2
	switch {
	case t > 1:
		a = b
	case t > 0:
		a = a.Add(ab.Mul(t))
	}
	d := p.Sub(a)
	return d.Dot(d)
}

// openRing returns indices of the ring without the closing position and
// without consecutive duplicates.
func openRing(ring [][]float64) []int {
	n := len(ring)
	if n > 1 && samePos(ring[0], ring[n-1]) {
		n--
	}
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if len(ring[i]) < 2 {
			continue
		}
		if len(idx) > 0 && samePos(ring[idx[len(idx)-1]], ring[i]) {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

func samePos(a, b []float64) bool {
	return len(a) >= 2 && len(b) >= 2 && a[0] == b[0] && a[1] == b[1]
}

func clonePos(p []float64) []float64 { return append([]float64(nil), p...) }

func cloneRing(r [][]float64) [][]float64 {
	out := make([][]float64, len(r))
	for i, p := range r {
		out[i] = clonePos(p)
	}
	return out
}

// OuterVertexCount is the number of positions in the outer ring.
func (p Polygon) OuterVertexCount() int {
	if len(p) == 0 {
		return 0
	}
	return len(p[0])
}

// valid reports whether every ring is a closed simple ring with non-zero area
// and no two rings cross.
func valid(p Polygon) bool {
	rings := make([][]r2.Point, 0, len(p))
	for _, ring := range p {
		if len(ring) < 4 || !samePos(ring[0], ring[len(ring)-1]) {
			return false
		}
		pts := make([]r2.Point, 0, len(ring)-1)
		for _, pos := range ring[:len(ring)-1] {
			pts = append(pts, r2.Point{X: pos[0], Y: pos[1]})
		}
		if !loopValid(pts) || math.Abs(signedArea(pts)) == 0 || !ringSimple(pts) {
			return false
		}
		rings = append(rings, pts)
	}
	for i := 0; i < len(rings); i++ {
		for j := i + 1; j < len(rings); j++ {
			if ringsCross(rings[i], rings[j]) {
				return false
			}
		}
	}
	return true
}

// loopValid runs the s2 loop checks (enough vertices, no repeated or
// antipodal neighbours) on the ring treated as lon/lat degrees.
func loopValid(pts []r2.Point) bool {
	if len(pts) < 3 {
		return false
	}
	sp := make([]s2.Point, len(pts))
	for i, p := range pts {
		sp[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(p.Y, p.X))
	}
	return s2.LoopFromPoints(sp).Validate() == nil
}

func signedArea(pts []r2.Point) float64 {
	a := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].Cross(pts[j])
	}
	return a / 2
}

func ringSimple(pts []r2.Point) bool {
	n := len(pts)
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(a1, a2, pts[j], pts[(j+1)%n]) {
				return false
			}
		}
	}
	return true
}

func ringsCross(a, b []r2.Point) bool {
	for i := range a {
		a1, a2 := a[i], a[(i+1)%len(a)]
		for j := range b {
			if segmentsIntersect(a1, a2, b[j], b[(j+1)%len(b)]) {
				return true
			}
		}
	}
	return false
}

func orient(a, b, c r2.Point) float64 {
	return b.Sub(a).Cross(c.Sub(a))
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p r2.Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

// segmentsIntersect includes touching and collinear overlap.
func segmentsIntersect(p1, p2, p3, p4 r2.Point) bool {
	d1 := sign(orient(p3, p4, p1))
	d2 := sign(orient(p3, p4, p2))
	d3 := sign(orient(p1, p2, p3))
	d4 := sign(orient(p1, p2, p4))

	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	switch {
	case d1 == 0 && onSegment(p3, p4, p1):
		return true
	case d2 == 0 && onSegment(p3, p4, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, p3):
		return true
	case d4 == 0 && onSegment(p1, p2, p4):
		return true
	}
	return false
}
