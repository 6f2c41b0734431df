package jobs

import (
	"net/url"
	"strings"
)

// ParseRoute extracts the job key from a path like /status/{key}.
// apiPrefix should be like "/status/". A bare key without idPrefix is
// normalized by prepending it. Extra path segments are rejected.
func ParseRoute(path, apiPrefix, idPrefix string) (key string, ok bool) {
	rest, found := strings.CutPrefix(path, apiPrefix)
	if !found {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	key, err := url.PathUnescape(rest)
	if err != nil || key == "" {
		return "", false
	}
	if !strings.HasPrefix(key, idPrefix) {
		key = idPrefix + key
	}
	return key, true
}
