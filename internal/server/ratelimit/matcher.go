package ratelimit

import "strings"

// MatchEndpoint returns the first configuration whose method and pattern
// match the request, or nil. GET /health is always unlimited.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == "GET" {
		return &EndpointConfig{Pattern: "/health", Method: "GET"}
	}
	for i := range configs {
		if configs[i].Method == method && matchPattern(configs[i].Pattern, path) {
			return &configs[i]
		}
	}
	return nil
}

// matchPattern compares slash-separated segments. "{x}" matches any
// non-empty segment; a pattern ending in "/" matches any deeper path.
func matchPattern(pattern, path string) bool {
	prefix := strings.HasSuffix(pattern, "/") && pattern != "/"
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	rs := strings.Split(strings.Trim(path, "/"), "/")

	if prefix {
		if len(rs) <= len(ps) {
			return false
		}
		rs = rs[:len(ps)]
	} else if len(rs) != len(ps) {
		return false
	}

	for i, seg := range ps {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if rs[i] == "" {
				return false
			}
			continue
		}
		if seg != rs[i] {
			return false
		}
	}
	return true
}
