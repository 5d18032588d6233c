package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/arcgis-client/pkg/query"
)

// queryOptions are the query inputs shared by the query command and the
// HTTP server.
type queryOptions struct {
	Where      string
	Fields     string
	OrderBy    string
	BBox       string
	NoGeometry bool
	OutSR      int
	InSR       int
}

// params converts the options into query parameters.
func (o queryOptions) params() (query.Params, error) {
	p := query.DefaultParams()
	p.Where = o.Where
	p.OutFields = splitList(o.Fields)
	p.OrderByFields = splitList(o.OrderBy)
	p.ReturnGeometry = !o.NoGeometry
	p.OutSR = o.OutSR

	if o.BBox != "" {
		geometry, err := envelope(o.BBox)
		if err != nil {
			return query.Params{}, err
		}
		p.SpatialFilter = &query.SpatialFilter{
			Geometry:     geometry,
			GeometryType: query.GeometryEnvelope,
			Relation:     query.RelIntersects,
			InSR:         o.InSR,
		}
	}

	if err := p.Validate(); err != nil {
		return query.Params{}, err
	}
	return p, nil
}

// splitList splits a comma separated list. "*" and "" mean no list.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "*" {
			return nil
		}
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envelope turns "xmin,ymin,xmax,ymax" into an Esri JSON envelope.
func envelope(bbox string) (json.RawMessage, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: bbox needs xmin,ymin,xmax,ymax (got %q)", query.ErrInvalidParams, bbox)
	}

	var c [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bbox coordinate %q: %v", query.ErrInvalidParams, part, err)
		}
		c[i] = v
	}
	if c[0] > c[2] || c[1] > c[3] {
		return nil, fmt.Errorf("%w: bbox minimum exceeds maximum", query.ErrInvalidParams)
	}

	return json.Marshal(map[string]float64{
		"xmin": c[0],
		"ymin": c[1],
		"xmax": c[2],
		"ymax": c[3],
	})
}
