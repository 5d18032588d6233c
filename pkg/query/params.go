// Package query holds the value types of a layer query: parameters,
// spatial filters and the features a query returns.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Request parameter names understood by the query endpoint.
const (
	ParamWhere             = "where"
	ParamOutFields         = "outFields"
	ParamReturnGeometry    = "returnGeometry"
	ParamOutSR             = "outSR"
	ParamGeometry          = "geometry"
	ParamGeometryType      = "geometryType"
	ParamSpatialRel        = "spatialRel"
	ParamInSR              = "inSR"
	ParamOrderByFields     = "orderByFields"
	ParamResultOffset      = "resultOffset"
	ParamResultRecordCount = "resultRecordCount"
	ParamReturnCountOnly   = "returnCountOnly"
)

// DefaultWhere selects every record.
const DefaultWhere = "1=1"

// SpatialRelation is the relation a feature must have with the filter geometry.
type SpatialRelation string

const (
	RelIntersects         SpatialRelation = "esriSpatialRelIntersects"
	RelContains           SpatialRelation = "esriSpatialRelContains"
	RelCrosses            SpatialRelation = "esriSpatialRelCrosses"
	RelEnvelopeIntersects SpatialRelation = "esriSpatialRelEnvelopeIntersects"
	RelOverlaps           SpatialRelation = "esriSpatialRelOverlaps"
	RelTouches            SpatialRelation = "esriSpatialRelTouches"
	RelWithin             SpatialRelation = "esriSpatialRelWithin"
)

var validRelations = map[SpatialRelation]bool{
	RelIntersects:         true,
	RelContains:           true,
	RelCrosses:            true,
	RelEnvelopeIntersects: true,
	RelOverlaps:           true,
	RelTouches:            true,
	RelWithin:             true,
}

// Geometry types accepted by a spatial filter.
const (
	GeometryPoint      = "esriGeometryPoint"
	GeometryMultipoint = "esriGeometryMultipoint"
	GeometryPolyline   = "esriGeometryPolyline"
	GeometryPolygon    = "esriGeometryPolygon"
	GeometryEnvelope   = "esriGeometryEnvelope"
)

// ErrInvalidParams is wrapped by every Validate failure.
var ErrInvalidParams = errors.New("invalid query parameters")

// SpatialFilter restricts a query to features related to a geometry.
type SpatialFilter struct {
	// Geometry is the filter geometry as Esri JSON, passed through unchanged.
	Geometry json.RawMessage

	// GeometryType names the shape of Geometry, e.g. GeometryEnvelope.
	GeometryType string

	// Relation defaults to RelIntersects.
	Relation SpatialRelation

	// InSR is the spatial reference of Geometry (0 = the layer's own).
	InSR int
}

// Params describes one layer query.
type Params struct {
	// OutFields lists the attributes to return, in order. Empty means all.
	OutFields []string

	// Where is a SQL-92 predicate. Empty means DefaultWhere.
	Where string

	ReturnGeometry bool

	// OutSR is the output spatial reference WKID (0 = the layer's own).
	OutSR int

	SpatialFilter *SpatialFilter

	// OrderByFields such as "OBJECTID ASC". Pages are only stable with an order.
	OrderByFields []string
}

// DefaultParams returns a query for every field of every record, with geometry.
func DefaultParams() Params {
	return Params{ReturnGeometry: true}
}

// Clone returns a deep copy that shares no slices or buffers with p.
func (p Params) Clone() Params {
	out := p
	out.OutFields = append([]string(nil), p.OutFields...)
	out.OrderByFields = append([]string(nil), p.OrderByFields...)
	if p.SpatialFilter != nil {
		sf := *p.SpatialFilter
		sf.Geometry = append(json.RawMessage(nil), p.SpatialFilter.Geometry...)
		out.SpatialFilter = &sf
	}
	return out
}

// Validate checks p before any request is made.
func (p Params) Validate() error {
	if p.OutSR < 0 {
		return fmt.Errorf("%w: outSR must not be negative (got %d)", ErrInvalidParams, p.OutSR)
	}
	for _, f := range p.OutFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: empty field name in outFields", ErrInvalidParams)
		}
	}
	if sf := p.SpatialFilter; sf != nil {
		if len(sf.Geometry) == 0 || !json.Valid(sf.Geometry) {
			return fmt.Errorf("%w: spatial filter geometry must be valid JSON", ErrInvalidParams)
		}
		if sf.GeometryType == "" {
			return fmt.Errorf("%w: spatial filter needs a geometry type", ErrInvalidParams)
		}
		if sf.Relation != "" && !validRelations[sf.Relation] {
			return fmt.Errorf("%w: unknown spatial relation %q", ErrInvalidParams, sf.Relation)
		}
		if sf.InSR < 0 {
			return fmt.Errorf("%w: inSR must not be negative (got %d)", ErrInvalidParams, sf.InSR)
		}
	}
	return nil
}

// filterValues encodes the parameters that select records.
func (p Params) filterValues() url.Values {
	v := url.Values{}
	where := strings.TrimSpace(p.Where)
	if where == "" {
		where = DefaultWhere
	}
	v.Set(ParamWhere, where)

	if sf := p.SpatialFilter; sf != nil {
		v.Set(ParamGeometry, string(sf.Geometry))
		v.Set(ParamGeometryType, sf.GeometryType)
		rel := sf.Relation
		if rel == "" {
			rel = RelIntersects
		}
		v.Set(ParamSpatialRel, string(rel))
		if sf.InSR > 0 {
			v.Set(ParamInSR, strconv.Itoa(sf.InSR))
		}
	}
	return v
}

// Values encodes p as query endpoint parameters, without paging.
func (p Params) Values() url.Values {
	v := p.filterValues()

	if len(p.OutFields) == 0 {
		v.Set(ParamOutFields, "*")
	} else {
		v.Set(ParamOutFields, strings.Join(p.OutFields, ","))
	}
	v.Set(ParamReturnGeometry, strconv.FormatBool(p.ReturnGeometry))
	if p.OutSR > 0 {
		v.Set(ParamOutSR, strconv.Itoa(p.OutSR))
	}
	if len(p.OrderByFields) > 0 {
		v.Set(ParamOrderByFields, strings.Join(p.OrderByFields, ","))
	}
	return v
}

// CountValues encodes the count-only variant of p.
func (p Params) CountValues() url.Values {
	v := p.filterValues()
	v.Set(ParamReturnCountOnly, "true")
	return v
}

// PageValues encodes p restricted to the window [offset, offset+limit).
func (p Params) PageValues(offset, limit int) url.Values {
	v := p.Values()
	v.Set(ParamResultOffset, strconv.Itoa(offset))
	v.Set(ParamResultRecordCount, strconv.Itoa(limit))
	return v
}
