package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Sternrassler/arcgis-client/pkg/client"
)

// Kind is the logical type of a service or layer endpoint.
type Kind string

const (
	KindFeatureServer Kind = "FeatureServer"
	KindFeatureLayer  Kind = "FeatureLayer"
	KindTable         Kind = "Table"
	KindImageServer   Kind = "ImageServer"
	KindMapServer     Kind = "MapServer"
)

// Kinds lists every kind ConstructHandle knows how to build.
var Kinds = []Kind{KindFeatureServer, KindFeatureLayer, KindTable, KindImageServer, KindMapServer}

func (k Kind) String() string {
	return string(k)
}

var (
	featureLayerPath  = regexp.MustCompile(`/featureserver/\d+$`)
	featureServerPath = regexp.MustCompile(`/featureserver$`)
	imageServerPath   = regexp.MustCompile(`/imageserver$`)
)

// ResolveKind determines the kind of the endpoint at rawURL. The URL shape
// decides first; the metadata `type` field is only consulted for URLs that
// carry no recognizable service segment. The result depends on nothing but
// its inputs.
func ResolveKind(rawURL string, metadata client.Body) (Kind, error) {
	path := normalizedPath(rawURL)

	switch {
	case featureLayerPath.MatchString(path):
		if metadata.Has("geometryType") {
			return KindFeatureLayer, nil
		}
		return KindTable, nil
	case featureServerPath.MatchString(path):
		return KindFeatureServer, nil
	case imageServerPath.MatchString(path):
		return KindImageServer, nil
	case strings.Contains(path, "/mapserver"):
		return KindMapServer, nil
	}

	if t, ok := metadata.Str("type"); ok {
		switch t {
		case "Feature Layer":
			return KindFeatureLayer, nil
		case "Table":
			return KindTable, nil
		}
	}

	return "", client.NewError(client.KindServiceTypeUnknown, 0,
		fmt.Sprintf("cannot determine service kind of %s", rawURL), nil)
}

// normalizedPath lowercases the URL path and drops its trailing slashes.
// Query strings and fragments never take part in matching.
func normalizedPath(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.ToLower(strings.TrimRight(path, "/"))
}

// CanonicalURL strips the query string, fragment and trailing slashes from rawURL.
func CanonicalURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimRight(rawURL, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
