package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all cache keys in Redis.
const KeyPrefix = "mcf"

// CacheKey identifies one cached API response.
type CacheKey struct {
	// Endpoint is host and path of the request (e.g., "api.mycareersfuture.gov.sg/v2/jobs/")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"limit": "100", "offset": "200"})
	QueryParams url.Values
}

// KeyForURL builds the cache key of a request URL.
func KeyForURL(u *url.URL) CacheKey {
	return CacheKey{
		Endpoint:    u.Host + u.Path,
		QueryParams: u.Query(),
	}
}

// String generates a deterministic cache key string.
// Format: mcf:endpoint:query1=val1:query2=val2
//
// Example:
//
//	mcf:api.mycareersfuture.gov.sg/v2/jobs:limit=100:offset=200
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
