package cache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// CacheKey identifies a cached metadata document.
type CacheKey struct {
	// ServiceURL is the service or layer URL the metadata was fetched from.
	ServiceURL string

	// Token is the resolved token. Only its digest ends up in the key, so
	// entries fetched with different tokens never mix.
	Token string
}

// String generates a deterministic cache key string.
// Format: arcgis:meta:<normalized url>[:tok=<xxhash64>]
//
// Example:
//
//	arcgis:meta:https://services.arcgis.com/x/arcgis/rest/services/Parcels/FeatureServer/0
func (k CacheKey) String() string {
	parts := []string{"arcgis", "meta", normalizeURL(k.ServiceURL)}

	if k.Token != "" {
		parts = append(parts, fmt.Sprintf("tok=%016x", xxhash.Sum64String(k.Token)))
	}

	return strings.Join(parts, ":")
}

// normalizeURL lowercases scheme and host and drops the query string,
// fragment and trailing slashes.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}
