package main

import (
	"fmt"
	"net/url"
	"strings"
)

// allowList restricts the services the proxy forwards to. An entry is a
// host ("services.arcgis.com", "gis.example.org:8443") or a URL prefix
// ("https://gis.example.org/arcgis/rest/services/Public"). Hosts compare
// with their port, paths case-insensitively on segment boundaries.
type allowList struct {
	rules []allowRule
}

type allowRule struct {
	scheme string // empty matches http and https
	host   string
	path   string
}

func newAllowList(entries []string) (*allowList, error) {
	al := &allowList{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "://") {
			if strings.ContainsAny(entry, "/?#@") {
				return nil, fmt.Errorf("allow entry %q: use a bare host or a full URL prefix", entry)
			}
			al.rules = append(al.rules, allowRule{host: strings.ToLower(entry)})
			continue
		}

		u, err := url.Parse(entry)
		if err != nil || u.Host == "" || u.User != nil {
			return nil, fmt.Errorf("allow entry %q is not a service URL prefix", entry)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return nil, fmt.Errorf("allow entry %q: scheme must be http or https", entry)
		}
		if !cleanPath(u.Path) {
			return nil, fmt.Errorf("allow entry %q: path must not contain . or .. segments", entry)
		}
		al.rules = append(al.rules, allowRule{
			scheme: scheme,
			host:   strings.ToLower(u.Host),
			path:   strings.ToLower(strings.TrimRight(u.Path, "/")),
		})
	}
	return al, nil
}

// Len returns the number of rules.
func (a *allowList) Len() int {
	return len(a.rules)
}

// permits reports whether the proxy may fetch rawURL.
func (a *allowList) permits(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || u.User != nil || !cleanPath(u.Path) {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Host)
	path := strings.ToLower(strings.TrimRight(u.Path, "/"))
	for _, r := range a.rules {
		if r.host != host || (r.scheme != "" && r.scheme != scheme) {
			continue
		}
		if r.path == "" || path == r.path || strings.HasPrefix(path, r.path+"/") {
			return true
		}
	}
	return false
}

// cleanPath rejects dot segments, which a server would resolve outside a
// matched prefix.
func cleanPath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
