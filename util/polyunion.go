package util

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	hull "github.com/furstenheim/go-convex-hull-2d"
)

type coordinates []orb.Point

func (c coordinates) Take(i int) (x, y float64) {
	return c[i][0], c[i][1]
}

func (c coordinates) Len() int {
	return len(c)
}

func (c coordinates) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
}

func (c coordinates) Slice(i, j int) hull.Interface {
	return c[i:j]
}

func toOuterRing(p orb.Polygon) coordinates {
	if len(p) == 0 {
		return coordinates{}
	}
	r := p[0]
	if len(r) > 1 && r.Closed() {
		r = r[:len(r)-1]
	}
	return coordinates(r)
}

// PolyUnion approximates the union of two polygons by the convex hull of
// their outer rings.
func PolyUnion(p1, p2 orb.Polygon) orb.Polygon {
	var c coordinates
	c = append(c, toOuterRing(p1)...)
	c = append(c, toOuterRing(p2)...)
	if len(c) == 0 {
		return orb.Polygon{}
	}
	h := hull.New(c)

	var ring orb.Ring
	for i := 0; i < h.Len(); i++ {
		x, y := h.Take(i)
		ring = append(ring, orb.Point{x, y})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Coverage estimates the fraction of aoi covered by the footprints. Each
// footprint is clipped to the AOI bounds and hulled into a running union, so
// the result is an upper bound for scattered scenes. Non-polygon footprints
// are ignored.
func Coverage(aoi orb.Polygon, footprints []orb.Geometry) float64 {
	total := math.Abs(planar.Area(aoi))
	if total == 0 {
		return 0
	}
	bound := aoi.Bound()
	var union orb.Polygon
	for _, g := range footprints {
		var polys []orb.Polygon
		switch v := g.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		default:
			continue
		}
		for _, p := range polys {
			intersect := clip.Polygon(bound, p.Clone())
			if len(intersect) == 0 || math.Abs(planar.Area(intersect)) == 0 {
				continue
			}
			union = PolyUnion(union, intersect)
		}
	}
	if len(union) == 0 {
		return 0
	}
	covered := clip.Polygon(bound, union)
	frac := math.Abs(planar.Area(covered)) / total
	if frac > 1 {
		frac = 1
	}
	return frac
}
