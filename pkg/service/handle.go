package service

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/arcgis-client/pkg/client"
)

// Handle is an opened service or layer. Handles are immutable: Refresh
// returns a new one.
type Handle interface {
	URL() string
	Kind() Kind
	// Metadata returns a copy of the description captured at open time.
	Metadata() client.Body
	// Token is the explicit token bound at open time, "" to use the default.
	Token() string
	Name() string
}

// Queryable is a handle whose records can be read through its query endpoint.
type Queryable interface {
	Handle
	QueryURL() string
	Fields() []Field
	ObjectIDField() string
	// MaxRecordCount is the server's page limit, 0 when not advertised.
	MaxRecordCount() int
	SupportsPagination() bool
	GeometryType() string
}

// Field describes one attribute column.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Alias    string `json:"alias"`
	Nullable bool   `json:"nullable"`
}

// LayerRef points at a layer or table inside a service.
type LayerRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type constructor func(b base) Handle

// constructors maps each kind to its handle shape.
var constructors = map[Kind]constructor{
	KindFeatureServer: func(b base) Handle { return &FeatureServer{base: b} },
	KindFeatureLayer:  func(b base) Handle { return &FeatureLayer{layer: layer{base: b}} },
	KindTable:         func(b base) Handle { return &Table{layer: layer{base: b}} },
	KindImageServer:   func(b base) Handle { return &ImageServer{base: b} },
	KindMapServer:     func(b base) Handle { return &MapServer{base: b} },
}

// ConstructHandle builds the handle for kind. The metadata is copied so the
// caller's map cannot change the handle afterwards. A kind outside Kinds is
// an invariant violation.
func ConstructHandle(kind Kind, rawURL string, metadata client.Body, token string) (Handle, error) {
	ctor, ok := constructors[kind]
	if !ok {
		return nil, client.NewError(client.KindInternal, 0,
			fmt.Sprintf("no handle constructor for service kind %q", kind), client.ErrInvariant)
	}
	return ctor(base{
		url:   CanonicalURL(rawURL),
		kind:  kind,
		meta:  copyBody(metadata),
		token: token,
	}), nil
}

type base struct {
	url   string
	kind  Kind
	meta  client.Body
	token string
}

func (b base) URL() string           { return b.url }
func (b base) Kind() Kind            { return b.kind }
func (b base) Token() string         { return b.token }
func (b base) Metadata() client.Body { return copyBody(b.meta) }

// Name returns the metadata `name`, falling back to `serviceDescription`.
func (b base) Name() string {
	if name, ok := b.meta.Str("name"); ok {
		return name
	}
	if desc, ok := b.meta.Str("serviceDescription"); ok {
		return desc
	}
	return ""
}

// refs decodes a `layers` or `tables` list into absolute layer URLs.
func (b base) refs(key string) []LayerRef {
	var items []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if !b.meta.Has(key) || b.meta.Decode(key, &items) != nil {
		return nil
	}
	out := make([]LayerRef, 0, len(items))
	for _, it := range items {
		out = append(out, LayerRef{
			ID:   it.ID,
			Name: it.Name,
			URL:  fmt.Sprintf("%s/%d", b.url, it.ID),
		})
	}
	return out
}

// layer carries the query surface shared by feature layers and tables.
type layer struct {
	base
}

func (l layer) QueryURL() string {
	return l.url + "/query"
}

func (l layer) Fields() []Field {
	var fields []Field
	if !l.meta.Has("fields") || l.meta.Decode("fields", &fields) != nil {
		return nil
	}
	return fields
}

// ObjectIDField returns `objectIdField`, else the first OID-typed field.
func (l layer) ObjectIDField() string {
	if name, ok := l.meta.Str("objectIdField"); ok && name != "" {
		return name
	}
	for _, f := range l.Fields() {
		if f.Type == "esriFieldTypeOID" {
			return f.Name
		}
	}
	return ""
}

func (l layer) MaxRecordCount() int {
	n, ok := l.meta.Int("maxRecordCount")
	if !ok || n < 0 {
		return 0
	}
	return n
}

// SupportsPagination reports advancedQueryCapabilities.supportsPagination.
// Layers that do not advertise the capability are assumed to support it.
func (l layer) SupportsPagination() bool {
	var caps struct {
		SupportsPagination *bool `json:"supportsPagination"`
	}
	if !l.meta.Has("advancedQueryCapabilities") || l.meta.Decode("advancedQueryCapabilities", &caps) != nil {
		return true
	}
	return caps.SupportsPagination == nil || *caps.SupportsPagination
}

func (l layer) GeometryType() string {
	t, _ := l.meta.Str("geometryType")
	return t
}

// FeatureServer is a container of layers and tables.
type FeatureServer struct {
	base
}

// Layers returns the spatial layers of the service.
func (s *FeatureServer) Layers() []LayerRef { return s.refs("layers") }

// Tables returns the attribute-only tables of the service.
func (s *FeatureServer) Tables() []LayerRef { return s.refs("tables") }

// FeatureLayer is a spatial layer.
type FeatureLayer struct {
	layer
}

// Table is an attribute-only layer.
type Table struct {
	layer
}

// ImageServer is a raster service.
type ImageServer struct {
	base
}

// BandCount returns the number of raster bands, 0 when unknown.
func (s *ImageServer) BandCount() int {
	n, _ := s.meta.Int("bandCount")
	return n
}

// PixelType returns the raster pixel type, e.g. "U8".
func (s *ImageServer) PixelType() string {
	t, _ := s.meta.Str("pixelType")
	return t
}

// MapServer is a map rendering service.
type MapServer struct {
	base
}

// Layers returns the layers drawn by the map service.
func (s *MapServer) Layers() []LayerRef { return s.refs("layers") }

func copyBody(b client.Body) client.Body {
	if b == nil {
		return client.Body{}
	}
	out := make(client.Body, len(b))
	for k, v := range b {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
