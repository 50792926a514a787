package domain

import "time"

// Extent is the 1-D window, in meters relative to the segment center, that a
// resampler must cover along the projected axis. HalfWidth is the corridor
// half-width on the perpendicular axis.
type Extent struct {
	MinX      float64 `json:"min_x"`
	MaxX      float64 `json:"max_x"`
	HalfWidth float64 `json:"half_width"`
}

// Width returns MaxX - MinX.
func (e Extent) Width() float64 {
	return e.MaxX - e.MinX
}

// Segment is one non-degenerate piece of a path together with the sampling
// parameters derived by the planner.
type Segment struct {
	Index          int      `json:"index"`
	Start          GeoPoint `json:"start"`
	End            GeoPoint `json:"end"`
	Length         float64  `json:"length"`          // meters
	DistanceOffset float64  `json:"distance_offset"` // meters from path start to Start
	SampleCount    int      `json:"sample_count"`
	SampleOffset   float64  `json:"sample_offset"` // resolution units from Start to first sample
	Extent         Extent   `json:"extent"`
	Projection     string   `json:"projection"`
}

// HasSamples reports whether the segment owns at least one sample.
func (s Segment) HasSamples() bool {
	return s.SampleCount > 0
}

// RasterResult is the 1-D elevation row produced for one segment.
type RasterResult struct {
	Values       []float64 `json:"values"`
	PixelSpacing float64   `json:"pixel_spacing"`
	NoData       float64   `json:"nodata,omitempty"`
	HasNoData    bool      `json:"has_nodata,omitempty"`
}

// IsNoData reports whether v carries no elevation measurement.
func (r RasterResult) IsNoData(v float64) bool {
	if v != v { // NaN
		return true
	}
	return r.HasNoData && v == r.NoData
}

// ProfilePoint is one sample of an elevation profile.
type ProfilePoint struct {
	Location  GeoPoint `json:"location"`
	Elevation float64  `json:"elevation"`
	Distance  float64  `json:"distance"` // meters from path start
}

// Profile is an ordered elevation profile.
type Profile struct {
	Points []ProfilePoint `json:"points"`
	Length float64        `json:"length"`
}

// ProfileRequest holds the parameters of one profile computation.
type ProfileRequest struct {
	ID              string  `json:"id,omitempty"`
	Path            Path    `json:"path"`
	Resolution      float64 `json:"resolution"`
	Concurrency     int     `json:"concurrency"`
	CorridorWidth   float64 `json:"corridor_width"`
	ElevationOffset int     `json:"elevation_offset"`
	DEMOverride     string  `json:"dem_override,omitempty"`
}

// Dataset maps a resolution ceiling to a DEM file, relative to the DEM directory.
type Dataset struct {
	MaxResolution float64 `json:"max_resolution" mapstructure:"max_resolution"` // exclusive, 0 = no ceiling
	File          string  `json:"file" mapstructure:"file"`
}

// ProgressEvent reports a settled resampling job of a profile request.
type ProgressEvent struct {
	RequestID string    `json:"request_id"`
	Segment   int       `json:"segment"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProfileCompleted is published once a profile request finishes.
type ProfileCompleted struct {
	RequestID string        `json:"request_id"`
	Points    int           `json:"points"`
	Length    float64       `json:"length"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// JobStatus describes an asynchronous profile job.
type JobStatus struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}
