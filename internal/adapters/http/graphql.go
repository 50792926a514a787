package http

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/pkg/geojson"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	profilePointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ProfilePoint",
		Fields: graphql.Fields{
			"location":  &graphql.Field{Type: geoPointType},
			"elevation": &graphql.Field{Type: graphql.Float},
			"distance":  &graphql.Field{Type: graphql.Float},
		},
	})

	profileType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Profile",
		Fields: graphql.Fields{
			"length": &graphql.Field{Type: graphql.Float},
			"points": &graphql.Field{Type: graphql.NewList(profilePointType)},
		},
	})

	jobType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ProfileJob",
		Fields: graphql.Fields{
			"id":      &graphql.Field{Type: graphql.String},
			"status":  &graphql.Field{Type: graphql.String},
			"error":   &graphql.Field{Type: graphql.String},
			"profile": &graphql.Field{Type: profileType},
		},
	})

	tilesetType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Tileset",
		Fields: graphql.Fields{
			"name":    &graphql.Field{Type: graphql.String},
			"format":  &graphql.Field{Type: graphql.String},
			"scheme":  &graphql.Field{Type: graphql.String},
			"minzoom": &graphql.Field{Type: graphql.Int},
			"maxzoom": &graphql.Field{Type: graphql.Int},
			"bounds":  &graphql.Field{Type: graphql.NewList(graphql.Float)},
			"tiles":   &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"elevationProfile": &graphql.Field{
				Type:        profileType,
				Description: "Elevation profile along a line of [lon, lat] coordinates",
				Args: graphql.FieldConfigArgument{
					"coordinates":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewList(graphql.Float)))},
					"resolution":      &graphql.ArgumentConfig{Type: graphql.Float},
					"concurrency":     &graphql.ArgumentConfig{Type: graphql.Int},
					"corridorWidth":   &graphql.ArgumentConfig{Type: graphql.Float},
					"elevationOffset": &graphql.ArgumentConfig{Type: graphql.Int},
					"demOverride":     &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					coords, err := coordinatesArg(p.Args["coordinates"])
					if err != nil {
						return nil, err
					}
					path, err := geojson.PathFromCoordinates(coords)
					if err != nil {
						return nil, err
					}
					req := domain.ProfileRequest{Path: path}
					if v, ok := p.Args["resolution"].(float64); ok {
						req.Resolution = v
					}
					if v, ok := p.Args["concurrency"].(int); ok {
						req.Concurrency = v
					}
					if v, ok := p.Args["corridorWidth"].(float64); ok {
						req.CorridorWidth = v
					}
					if v, ok := p.Args["elevationOffset"].(int); ok {
						req.ElevationOffset = v
					}
					if v, ok := p.Args["demOverride"].(string); ok {
						req.DEMOverride = v
					}
					return deps.Profiles.Compute(p.Context, req)
				},
			},
			"profileJob": &graphql.Field{
				Type:        jobType,
				Description: "Status of an asynchronous profile job",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Jobs == nil {
						return nil, errors.New("asynchronous jobs are not configured")
					}
					return deps.Jobs.Status(p.Context, p.Args["id"].(string))
				},
			},
			"tileset": &graphql.Field{
				Type:        tilesetType,
				Description: "Terrain tileset description (layer.json)",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Tiles.LayerJSON(p.Context)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// coordinatesArg converts the decoded [[Float]] argument.
func coordinatesArg(v interface{}) ([][]float64, error) {
	outer, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("coordinates must be a list of [lon, lat] pairs")
	}
	coords := make([][]float64, 0, len(outer))
	for i, item := range outer {
		inner, ok := item.([]interface{})
		if !ok {
			return nil, fmt.Errorf("coordinate %d is not a list", i)
		}
		pair := make([]float64, 0, len(inner))
		for _, n := range inner {
			f, ok := n.(float64)
			if !ok {
				return nil, fmt.Errorf("coordinate %d holds a non-number", i)
			}
			pair = append(pair, f)
		}
		coords = append(coords, pair)
	}
	return coords, nil
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
