package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/nci/gomemcache/memcache"
)

// CapabilitiesCache caches rendered capability documents in
// memcached. Cache keys carry the config generation, so a SIGHUP
// reload retires every previously cached document without any
// explicit invalidation traffic.
type CapabilitiesCache struct {
	mc *memcache.Client
}

// NewCapabilitiesCache connects to the memcached instance at uri.
// An empty uri yields a disabled cache whose lookups always miss.
func NewCapabilitiesCache(uri string) *CapabilitiesCache {
	cache := &CapabilitiesCache{}
	if len(uri) > 0 {
		cache.mc = memcache.New(uri)
	}
	return cache
}

func (cache *CapabilitiesCache) cacheKey(namespace, service, host string, generation int) string {
	buff := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", namespace, service, host, generation)))
	return hex.EncodeToString(buff[:])
}

func (cache *CapabilitiesCache) Get(namespace, service, host string, generation int) ([]byte, bool) {
	if cache.mc == nil {
		return nil, false
	}
	cached, err := cache.mc.Get(cache.cacheKey(namespace, service, host, generation))
	if err != nil {
		return nil, false
	}
	return cached.Value, true
}

func (cache *CapabilitiesCache) Put(namespace, service, host string, generation int, doc []byte) {
	if cache.mc == nil {
		return
	}
	// don't care about errors; memcache may not necessarily retain this anyway
	cache.mc.Set(&memcache.Item{Key: cache.cacheKey(namespace, service, host, generation), Value: doc})
}
