package http

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kalisio/k2/internal/core/domain"
)

const (
	terrainSuffix      = ".terrain"
	quantizedMeshType  = "application/vnd.quantized-mesh"
	terrainCacheHeader = "no-transform"
)

func isTerrainPath(path string) bool {
	return strings.HasSuffix(path, terrainSuffix)
}

// LayerJSONHandler serves the tileset description terrain clients read first.
func LayerJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		layer, err := deps.Tiles.LayerJSON(c.UserContext())
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(layer)
	}
}

// TerrainTileHandler serves /:z/:x/:y.terrain. Tiles are stored gzipped and
// sent as is.
func TerrainTileHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("tile")
		if !isTerrainPath(name) {
			return errNotFound(c, "unknown resource")
		}

		z, errZ := strconv.Atoi(c.Params("z"))
		x, errX := strconv.Atoi(c.Params("x"))
		y, errY := strconv.Atoi(strings.TrimSuffix(name, terrainSuffix))
		if errZ != nil || errX != nil || errY != nil {
			return errBadRequest(c, "tile coordinates must be integers")
		}

		data, err := deps.Tiles.GetTile(c.UserContext(), z, x, y)
		if err != nil {
			if errors.Is(err, domain.ErrTileNotFound) {
				return errNotFound(c, "tile not found")
			}
			return errInternal(c, err.Error())
		}

		c.Set(fiber.HeaderContentType, quantizedMeshType)
		c.Set(fiber.HeaderContentEncoding, "gzip")
		c.Set(fiber.HeaderCacheControl, terrainCacheHeader)
		return c.Send(data)
	}
}
