package geoip

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HostResolver 主机名解析接口（*net.Resolver 满足该接口）
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// hostnameCache resolves hostnames to a single IP with a TTL cache.
// Only successful resolutions are cached.
type hostnameCache struct {
	resolver HostResolver
	timeout  time.Duration
	cache    *expirable.LRU[string, net.IP]
}

func newHostnameCache(resolver HostResolver, timeout time.Duration, size int, ttl time.Duration) *hostnameCache {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if size <= 0 {
		size = 10_000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &hostnameCache{
		resolver: resolver,
		timeout:  timeout,
		cache:    expirable.NewLRU[string, net.IP](size, nil, ttl),
	}
}

// resolve 解析主机名，返回第一个地址
func (h *hostnameCache) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip, ok := h.cache.Get(host); ok {
		return ip, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	addrs, err := h.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrInvalidAddress, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: resolve %q: no addresses", ErrInvalidAddress, host)
	}

	ip := addrs[0].IP
	h.cache.Add(host, ip)
	return ip, nil
}

// len 返回缓存条目数
func (h *hostnameCache) len() int {
	return h.cache.Len()
}
