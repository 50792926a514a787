package profile

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/pkg/geospatial"
)

// rows builds flat raster rows for every sampled segment of plan.
func rows(plan *Plan, value float64) []*domain.RasterResult {
	plans := plan.SamplePlans()
	out := make([]*domain.RasterResult, len(plans))
	for i, s := range plans {
		vals := make([]float64, s.SampleCount)
		for j := range vals {
			vals[j] = value
		}
		out[i] = &domain.RasterResult{Values: vals, PixelSpacing: plan.Resolution}
	}
	return out
}

func TestAssemble_SingleSegment(t *testing.T) {
	start := domain.GeoPoint{Lat: 0, Lon: 0}
	end := domain.GeoPoint{Lat: 0, Lon: 0.01}
	plan, err := NewPlanner().Plan(domain.Path{start, end}, 100, 0)
	require.NoError(t, err)

	prof, err := Assemble(plan, rows(plan, 12), 0)
	require.NoError(t, err)

	require.Len(t, prof.Points, plan.SampleCount())
	assert.Equal(t, 0.0, prof.Points[0].Distance)
	assert.Equal(t, start, prof.Points[0].Location)
	assert.Equal(t, 12.0, prof.Points[0].Elevation)

	last := prof.Points[len(prof.Points)-1]
	assert.Equal(t, end, last.Location)
	assert.Equal(t, plan.Length, last.Distance)
	assert.Equal(t, geospatial.Distance(start, end), prof.Length)

	for i := 1; i < len(prof.Points)-1; i++ {
		assert.InDelta(t, float64(i)*100, prof.Points[i].Distance, 1e-6)
		// the point sits on the segment at its distance from the start
		assert.InDelta(t, prof.Points[i].Distance, geospatial.Distance(start, prof.Points[i].Location), 1e-3)
	}
}

func TestAssemble_ExactScenario(t *testing.T) {
	plan := &Plan{
		Resolution: 100,
		Length:     1000,
		End:        domain.GeoPoint{Lon: 0.009},
		Segments: []domain.Segment{{
			Start:       domain.GeoPoint{},
			End:         domain.GeoPoint{Lon: 0.009},
			Length:      1000,
			SampleCount: 11,
		}},
	}
	prof, err := Assemble(plan, rows(plan, 5), 0)
	require.NoError(t, err)
	require.Len(t, prof.Points, 11)
	assert.Equal(t, 0.0, prof.Points[0].Distance)
	assert.Equal(t, 1000.0, prof.Points[10].Distance)
	assert.Equal(t, domain.GeoPoint{Lon: 0.009}, prof.Points[10].Location)
}

func TestAssemble_OffsetAndNoData(t *testing.T) {
	plan, err := NewPlanner().Plan(domain.Path{{Lat: 45, Lon: 6}, {Lat: 45.001, Lon: 6}}, 30, 0)
	require.NoError(t, err)

	res := rows(plan, 100)
	res[0].HasNoData = true
	res[0].NoData = -32768
	res[0].Values[0] = -32768
	res[0].Values[1] = math.NaN()

	prof, err := Assemble(plan, res, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, prof.Points[0].Elevation)
	assert.Equal(t, 10.0, prof.Points[1].Elevation)
	assert.Equal(t, 110.0, prof.Points[2].Elevation)
}

func TestAssemble_ConcatenatesInPathOrder(t *testing.T) {
	p := domain.Path{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.002}, {Lat: 0.003, Lon: 0.002}}
	plan, err := NewPlanner().Plan(p, 50, 0)
	require.NoError(t, err)
	require.Len(t, plan.SamplePlans(), 2)

	res := rows(plan, 0)
	for i, r := range res {
		for j := range r.Values {
			r.Values[j] = float64(i)
		}
	}

	prof, err := Assemble(plan, res, 0)
	require.NoError(t, err)
	require.Len(t, prof.Points, plan.SampleCount())

	prev := -1.0
	for _, pt := range prof.Points {
		assert.Greater(t, pt.Distance, prev)
		prev = pt.Distance
	}
	first := plan.SamplePlans()[0].SampleCount
	assert.Equal(t, 0.0, prof.Points[first-1].Elevation)
	assert.Equal(t, 1.0, prof.Points[first].Elevation)
	assert.Equal(t, p.Last(), prof.Points[len(prof.Points)-1].Location)
}

func TestAssemble_SkipsFailedSegments(t *testing.T) {
	plan, err := flatPlanner().Plan(line(0, 250, 400), 100, 0)
	require.NoError(t, err)

	res := rows(plan, 1)
	res[1] = nil

	prof, err := Assemble(plan, res, 0)
	require.NoError(t, err)
	require.Len(t, prof.Points, 3)
	assert.InDelta(t, 200.0, prof.Points[2].Distance, 1e-9)
	assert.NotEqual(t, plan.End, prof.Points[2].Location)
	assert.Equal(t, 400.0, prof.Length)
}

func TestAssemble_FailedFirstSegmentStillPinsEnd(t *testing.T) {
	plan, err := flatPlanner().Plan(line(0, 250, 400), 100, 0)
	require.NoError(t, err)

	res := rows(plan, 1)
	res[0] = nil

	prof, err := Assemble(plan, res, 0)
	require.NoError(t, err)
	require.NotEmpty(t, prof.Points)
	last := prof.Points[len(prof.Points)-1]
	assert.Equal(t, plan.End, last.Location)
	assert.Equal(t, 400.0, last.Distance)
}

func TestAssemble_SampleCountMismatch(t *testing.T) {
	plan, err := flatPlanner().Plan(line(0, 250, 400), 100, 0)
	require.NoError(t, err)

	res := rows(plan, 1)
	res[1].Values = res[1].Values[:1]

	_, err = Assemble(plan, res, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSampleCountMismatch)

	var segErr *domain.SegmentError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, 1, segErr.Segment)
}

func TestAssemble_ResultCountMismatch(t *testing.T) {
	plan, err := flatPlanner().Plan(line(0, 250, 400), 100, 0)
	require.NoError(t, err)

	_, err = Assemble(plan, rows(plan, 1)[:1], 0)
	assert.Error(t, err)
}

func TestAssemble_EmptyPlan(t *testing.T) {
	plan, err := flatPlanner().Plan(domain.Path{{Lon: 3}, {Lon: 3}}, 100, 0)
	require.NoError(t, err)

	prof, err := Assemble(plan, nil, 0)
	require.NoError(t, err)
	assert.NotNil(t, prof.Points)
	assert.Empty(t, prof.Points)
}
