package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned when no line could be extracted from the input.
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidResolution is returned for a non-positive sampling step.
	ErrInvalidResolution = errors.New("resolution must be positive")
	// ErrInvalidDataset is returned for a DEM override outside the DEM directory.
	ErrInvalidDataset = errors.New("invalid dataset")
	// ErrSampleCountMismatch is returned when a raster row does not hold one value per planned sample.
	ErrSampleCountMismatch = errors.New("raster sample count mismatch")
	// ErrTileNotFound is returned by tile stores for a missing tile.
	ErrTileNotFound = errors.New("tile not found")
	// ErrJobNotFound is returned for an unknown async profile job.
	ErrJobNotFound = errors.New("job not found")
)

// ResampleError is a failed resampling invocation for one segment.
type ResampleError struct {
	Segment int
	Op      string // "exec", "read", "request", ...
	Err     error
}

func (e *ResampleError) Error() string {
	return fmt.Sprintf("resample segment %d: %s: %v", e.Segment, e.Op, e.Err)
}

func (e *ResampleError) Unwrap() error { return e.Err }

// SegmentError is a fatal error while assembling one segment.
type SegmentError struct {
	Segment int
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Segment, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }
