package apiclient

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// newCachingTransport wraps base with a private HTTP cache. GET responses
// carrying Cache-Control headers (the profile and list endpoints) are served
// from the cache; the cache honours Vary: Authorization so users never see
// each other's entries.
func newCachingTransport(base http.RoundTripper, cacheDir string) http.RoundTripper {
	var cache httpcache.Cache
	if cacheDir == "" || cacheDir == "memory" {
		cache = httpcache.NewMemoryCache()
	} else {
		// Use disk-based cache for persistence across CLI invocations
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = base
	return transport
}

func fromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
