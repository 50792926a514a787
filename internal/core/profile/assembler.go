package profile

import (
	"fmt"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/pkg/geospatial"
)

// Assemble turns the raster rows of a plan into an ordered profile.
//
// results must be aligned with plan.SamplePlans(): results[i] belongs to the
// i-th sampled segment. A nil entry marks a segment whose resampling failed
// under a tolerant policy; its samples are omitted. The last point is pinned
// to the path end and total length only when the last sampled segment
// succeeded; otherwise it stays where it was sampled.
func Assemble(plan *Plan, results []*domain.RasterResult, elevationOffset float64) (*domain.Profile, error) {
	plans := plan.SamplePlans()
	if len(results) != len(plans) {
		return nil, fmt.Errorf("assemble: %d raster results for %d sampled segments", len(results), len(plans))
	}

	out := &domain.Profile{
		Points: make([]domain.ProfilePoint, 0, plan.SampleCount()),
		Length: plan.Length,
	}

	for i, seg := range plans {
		res := results[i]
		if res == nil {
			continue
		}
		if len(res.Values) != seg.SampleCount {
			return nil, &domain.SegmentError{
				Segment: seg.Index,
				Err:     fmt.Errorf("%w: got %d values, want %d", domain.ErrSampleCountMismatch, len(res.Values), seg.SampleCount),
			}
		}

		spacing := res.PixelSpacing
		if spacing <= 0 {
			spacing = plan.Resolution
		}

		for j, v := range res.Values {
			along := (seg.SampleOffset + float64(j)) * spacing
			elevation := elevationOffset
			if !res.IsNoData(v) {
				elevation += v
			}
			out.Points = append(out.Points, domain.ProfilePoint{
				Location:  geospatial.Along(seg.Start, seg.End, along),
				Elevation: elevation,
				Distance:  seg.DistanceOffset + along,
			})
		}
	}

	if n := len(out.Points); n > 0 && len(results) > 0 && results[len(results)-1] != nil {
		out.Points[n-1].Location = plan.End
		out.Points[n-1].Distance = plan.Length
	}

	return out, nil
}
