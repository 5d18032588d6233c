package query

import (
	"encoding/json"
	"math"
)

// Feature is one record returned by a query. Tables return features
// without geometry.
type Feature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

// FeatureSet is the body of a query page.
type FeatureSet struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
}

// HasGeometry reports whether the feature carries a non-null geometry.
func (f Feature) HasGeometry() bool {
	return len(f.Geometry) > 0 && string(f.Geometry) != "null"
}

// ObjectID returns the integer value of the named attribute.
func (f Feature) ObjectID(field string) (int64, bool) {
	switch v := f.Attributes[field].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
