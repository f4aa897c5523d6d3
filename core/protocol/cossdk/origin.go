package cossdk

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOrigin canonicalizes an origin string to scheme://host[:port].
// Scheme and host fold to lower case and a default port is dropped, so
// the same principal always maps to the same permission and index keys.
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("origin %q needs a scheme and host", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !defaultPort(scheme, port) {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

func defaultPort(scheme, port string) bool {
	switch scheme {
	case "http", "ws":
		return port == "80"
	case "https", "wss":
		return port == "443"
	}
	return false
}
