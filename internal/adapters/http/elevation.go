package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/pkg/export"
	"github.com/kalisio/k2/internal/pkg/geojson"
)

const (
	geoJSONType = "application/geo+json"
	kmlType     = "application/vnd.google-earth.kml+xml"
)

// profileParams are the request parameters clients put next to the GeoJSON
// members of the body.
type profileParams struct {
	Resolution      *float64 `json:"resolution"`
	Concurrency     *int     `json:"concurrency"`
	CorridorWidth   *float64 `json:"corridorWidth"`
	ElevationOffset *int     `json:"elevationOffset"`
	DEMOverride     string   `json:"demOverride"`
}

// parseProfileRequest validates the body and builds a profile request.
// Validation problems are returned separately from other input errors.
func parseProfileRequest(c *fiber.Ctx) (domain.ProfileRequest, []geojson.ValidationError, error) {
	var req domain.ProfileRequest
	body := c.Body()
	if len(body) == 0 {
		return req, nil, errors.New("request body is required")
	}

	if problems := geojson.Validate(body); len(problems) > 0 {
		return req, problems, nil
	}

	path, err := geojson.ExtractPath(body)
	if err != nil {
		return req, nil, err
	}
	req.Path = path

	var params profileParams
	if err := json.Unmarshal(body, &params); err != nil {
		return req, nil, fmt.Errorf("invalid request parameters: %w", err)
	}
	if params.Resolution != nil {
		req.Resolution = *params.Resolution
	}
	if params.Concurrency != nil {
		req.Concurrency = *params.Concurrency
	}
	if params.CorridorWidth != nil {
		req.CorridorWidth = *params.CorridorWidth
	}
	if params.ElevationOffset != nil {
		req.ElevationOffset = *params.ElevationOffset
	}
	req.DEMOverride = params.DEMOverride

	// Query parameters win over body members.
	if err := queryFloat(c, "resolution", &req.Resolution); err != nil {
		return req, nil, err
	}
	if err := queryFloat(c, "corridorWidth", &req.CorridorWidth); err != nil {
		return req, nil, err
	}
	if err := queryInt(c, "concurrency", &req.Concurrency); err != nil {
		return req, nil, err
	}
	if err := queryInt(c, "elevationOffset", &req.ElevationOffset); err != nil {
		return req, nil, err
	}
	if dem := c.Query("demOverride"); dem != "" {
		req.DEMOverride = dem
	}

	// Clients may pick the ID (X-Request-ID) to follow progress over /ws.
	if rid, ok := c.Locals("requestid").(string); ok {
		req.ID = rid
	}
	return req, nil, nil
}

func queryFloat(c *fiber.Ctx, key string, dst *float64) error {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%s must be a number", key)
	}
	*dst = v
	return nil
}

func queryInt(c *fiber.Ctx, key string, dst *int) error {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer", key)
	}
	*dst = v
	return nil
}

// ElevationHandler computes an elevation profile along the posted line.
// POST /elevation?format=geojson|kml
func ElevationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, problems, err := parseProfileRequest(c)
		if len(problems) > 0 {
			return errInvalidGeoJSON(c, problems)
		}
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		prof, err := deps.Profiles.Compute(c.UserContext(), req)
		if err != nil {
			return profileError(c, err)
		}
		c.Set("X-Profile-ID", req.ID)
		return renderProfile(c, prof)
	}
}

// profileError maps pipeline failures onto HTTP statuses.
func profileError(c *fiber.Ctx, err error) error {
	var re *domain.ResampleError
	switch {
	case errors.Is(err, domain.ErrInvalidPath), errors.Is(err, domain.ErrInvalidResolution),
		errors.Is(err, domain.ErrInvalidDataset):
		return errBadRequest(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(c, 504, "timeout", err.Error())
	case errors.As(err, &re):
		return errBadGateway(c, err.Error())
	default:
		return errInternal(c, err.Error())
	}
}

func renderProfile(c *fiber.Ctx, prof *domain.Profile) error {
	switch format := c.Query("format", "geojson"); format {
	case "geojson", "json":
		data, err := json.Marshal(export.FeatureCollection(prof))
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set(fiber.HeaderContentType, geoJSONType)
		return c.Send(data)
	case "kml":
		data, err := export.KML(prof, "elevation profile")
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set(fiber.HeaderContentType, kmlType)
		return c.Send(data)
	default:
		return errBadRequest(c, "format must be geojson or kml, got "+format)
	}
}

// StartJobHandler starts an asynchronous profile computation.
// POST /v1/elevation/jobs
func StartJobHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Jobs == nil {
			return errUnavailable(c, "asynchronous jobs are not configured")
		}
		req, problems, err := parseProfileRequest(c)
		if len(problems) > 0 {
			return errInvalidGeoJSON(c, problems)
		}
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		id, err := deps.Jobs.Start(c.UserContext(), req)
		if err != nil {
			return errInternal(c, err.Error())
		}

		c.Location("/v1/elevation/jobs/" + id)
		return c.Status(fiber.StatusAccepted).JSON(domain.JobStatus{ID: id, Status: "running"})
	}
}

// JobStatusHandler reports an asynchronous job; once completed the profile
// is rendered like the synchronous endpoint.
// GET /v1/elevation/jobs/:id
func JobStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Jobs == nil {
			return errUnavailable(c, "asynchronous jobs are not configured")
		}
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "job id is required")
		}

		st, err := deps.Jobs.Status(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				return errNotFound(c, "job not found")
			}
			return errInternal(c, err.Error())
		}

		if st.Profile != nil && c.Query("format") != "" {
			return renderProfile(c, st.Profile)
		}
		if st.Profile != nil {
			return c.JSON(fiber.Map{
				"id":      st.ID,
				"status":  st.Status,
				"profile": export.FeatureCollection(st.Profile),
			})
		}
		return c.JSON(st)
	}
}
