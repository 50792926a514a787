// Package gdal resamples segment rasters by running gdalwarp.
package gdal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/pkg/logging"
)

// Engine implements ports.Resampler with a local gdalwarp binary.
type Engine struct {
	binary     string
	scratchDir string
}

// New creates an Engine. binary defaults to "gdalwarp" from PATH; scratchDir
// is used for requests that carry no output path.
func New(binary, scratchDir string) *Engine {
	if binary == "" {
		binary = "gdalwarp"
	}
	return &Engine{binary: binary, scratchDir: scratchDir}
}

// Args returns the gdalwarp command line of a request, without the binary.
// The target is a 1-pixel-high strip along the x axis of the two point
// equidistant projection of the segment, one pixel per sample, keeping the
// highest elevation across the corridor.
func Args(req ports.ResampleRequest, output string) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	hw := req.Extent.HalfWidth
	return []string{
		"-q", "-overwrite",
		"-t_srs", req.Projection,
		"-te", f(req.Extent.MinX), f(-hw), f(req.Extent.MaxX), f(hw),
		"-ts", strconv.Itoa(req.SampleCount), "1",
		"-r", "max",
		"-ot", "Float32",
		"-of", "EHdr",
		req.Dataset,
		output,
	}
}

// Resample runs gdalwarp for one segment and reads back its row. The process
// is killed when ctx is done.
func (e *Engine) Resample(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
	if req.SampleCount <= 0 {
		return nil, &domain.ResampleError{Segment: req.Segment, Op: "validate", Err: errors.New("no samples requested")}
	}

	base := req.OutputPath
	if base == "" {
		dir, err := os.MkdirTemp(e.scratchDir, "k2-resample-")
		if err != nil {
			return nil, &domain.ResampleError{Segment: req.Segment, Op: "scratch", Err: err}
		}
		defer os.RemoveAll(dir)
		base = dir + string(os.PathSeparator) + "segment-" + strconv.Itoa(req.Segment)
	}

	logPath := base + ".log"
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, &domain.ResampleError{Segment: req.Segment, Op: "log", Err: err}
	}
	defer logFile.Close()

	args := Args(req, base+".bil")
	log := logging.FromContext(ctx)
	log.Debug("gdalwarp", "segment", req.Segment, "args", args)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		return nil, &domain.ResampleError{Segment: req.Segment, Op: "exec", Err: withLog(err, logPath, log)}
	}

	res, err := ReadRaster(base)
	if err != nil {
		return nil, &domain.ResampleError{Segment: req.Segment, Op: "read", Err: err}
	}
	return res, nil
}

// withLog appends the tail of the engine log to err.
func withLog(err error, path string, log *slog.Logger) error {
	data, rerr := os.ReadFile(path)
	if rerr != nil || len(data) == 0 {
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 512 {
		data = data[len(data)-512:]
	}
	log.Warn("gdalwarp failed", "error", err, "output", string(data))
	return fmt.Errorf("%w: %s", err, data)
}
