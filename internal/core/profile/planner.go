// Package profile plans per-segment elevation sampling along a path and
// assembles the sampled rasters back into an ordered profile.
package profile

import (
	"math"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/pkg/geospatial"
)

// DistanceFunc measures the length in meters between two points.
type DistanceFunc func(a, b domain.GeoPoint) float64

// Plan is the sampling plan of a whole path.
type Plan struct {
	Segments   []domain.Segment // non-degenerate segments, in path order
	Resolution float64
	Length     float64 // total path length in meters
	End        domain.GeoPoint
}

// SamplePlans returns the segments that own at least one sample.
func (p *Plan) SamplePlans() []domain.Segment {
	plans := make([]domain.Segment, 0, len(p.Segments))
	for _, s := range p.Segments {
		if s.HasSamples() {
			plans = append(plans, s)
		}
	}
	return plans
}

// SampleCount returns the number of samples over all segments.
func (p *Plan) SampleCount() int {
	n := 0
	for _, s := range p.Segments {
		n += s.SampleCount
	}
	return n
}

// Planner splits paths into segments sampled on a global uniform grid.
type Planner struct {
	distance DistanceFunc
}

// NewPlanner creates a Planner measuring segments with great-circle distance.
func NewPlanner() *Planner {
	return &Planner{distance: geospatial.Distance}
}

// NewPlannerWithDistance creates a Planner using a custom distance function.
func NewPlannerWithDistance(fn DistanceFunc) *Planner {
	return &Planner{distance: fn}
}

// accumulator is the state threaded through the fold over segments.
type accumulator struct {
	total     float64 // meters from the path start
	skipFirst bool    // previous segment sampled its own end point
	residual  float64 // t1 - floor(t1) of the last segment
}

// Plan walks consecutive point pairs of path and derives, for each segment,
// how many samples it owns so that samples fall every resolution meters from
// the path start, without duplicating or skipping a sample at boundaries.
func (p *Planner) Plan(path domain.Path, resolution, corridorWidth float64) (*Plan, error) {
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return nil, domain.ErrInvalidResolution
	}
	if corridorWidth < 0 {
		corridorWidth = 0
	}
	halfWidth := math.Max(1, corridorWidth/2)

	plan := &Plan{Resolution: resolution, End: path.Last()}
	var acc accumulator

	for i := 0; i+1 < len(path); i++ {
		a, b := path[i], path[i+1]
		if a == b {
			continue
		}
		length := p.distance(a, b)
		if length <= 0 {
			continue
		}

		tStart := acc.total / resolution
		t0 := tStart
		if acc.skipFirst {
			t0++
		}
		t1 := (acc.total + length) / resolution
		first := math.Ceil(t0)
		last := math.Floor(t1)

		count := 1 + int(last) - int(first)
		if count < 0 {
			count = 0
		}
		offset := first - tStart
		residual := t1 - last

		acc.skipFirst = t1 == last
		acc.residual = residual

		// Center the segment on 0, move both edges onto the first and last
		// samples, then widen by half a pixel since samples are pixel centers.
		maxX := length / 2
		minX := -maxX
		minX += resolution * offset
		maxX -= resolution * residual
		minX -= resolution / 2
		maxX += resolution / 2

		plan.Segments = append(plan.Segments, domain.Segment{
			Index:          len(plan.Segments),
			Start:          a,
			End:            b,
			Length:         length,
			DistanceOffset: acc.total,
			SampleCount:    count,
			SampleOffset:   offset,
			Extent:         domain.Extent{MinX: minX, MaxX: maxX, HalfWidth: halfWidth},
			Projection:     geospatial.TwoPointEquidistant(a, b),
		})

		acc.total += length
	}

	plan.Length = acc.total

	// Cover the path end when it falls well past the last grid sample.
	if n := len(plan.Segments); n > 0 && !acc.skipFirst && acc.residual > 0.5 {
		last := &plan.Segments[n-1]
		last.SampleCount++
		last.Extent.MaxX += resolution
	}

	return plan, nil
}
