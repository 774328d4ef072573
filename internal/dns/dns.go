package dns

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// CachedResolver performs reverse DNS lookups and remembers the outcome
// for the lifetime of the process. Failed lookups are cached as well so
// an unresolvable IP only costs one timeout per run. Entries survive
// restarts via LoadCacheFile / SaveCacheFile.
type CachedResolver struct {
	ctx     context.Context
	timeout time.Duration
	lookup  func(ctx context.Context, ip string) ([]string, error)
	logger  *slog.Logger
	mutex   sync.RWMutex
	cache   map[string]*string
}

func NewCachedResolver(ctx context.Context, server string, connectTimeout, timeout time.Duration, logger *slog.Logger) *CachedResolver {
	resolver := net.DefaultResolver
	if server != "" {
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{
					Timeout: connectTimeout,
				}
				return d.DialContext(ctx, network, server)
			},
		}
	}
	return &CachedResolver{
		ctx:     ctx,
		timeout: timeout,
		lookup:  resolver.LookupAddr,
		logger:  logger,
		cache:   make(map[string]*string),
	}
}

// Resolve returns the hostname for ip, ok is false when the address has
// no usable PTR record. Only the first request per address hits the
// network.
func (r *CachedResolver) Resolve(ip string) (string, bool) {
	r.mutex.RLock()
	host, found := r.cache[ip]
	r.mutex.RUnlock()
	if found {
		if host == nil {
			return "", false
		}
		return *host, true
	}

	r.logger.Debug("resolving", "ip", ip)

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	domains, err := r.lookup(ctx, ip)
	if err != nil || len(domains) == 0 {
		// store a negative entry so we do not reresolve the ip
		r.setEntry(ip, nil)
		return "", false
	}

	// remove the trailing dot from the domain
	resolved := strings.TrimSuffix(domains[0], ".")
	r.setEntry(ip, &resolved)
	return resolved, true
}

func (r *CachedResolver) setEntry(ip string, host *string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cache[ip] = host
}

// Entries returns a copy of the cache contents. A nil value marks an IP
// that could not be resolved.
func (r *CachedResolver) Entries() map[string]*string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entries := make(map[string]*string, len(r.cache))
	for ip, host := range r.cache {
		entries[ip] = host
	}
	return entries
}

// SetEntries seeds the cache, used to restore a previously saved cache
// file before a run.
func (r *CachedResolver) SetEntries(entries map[string]*string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for ip, host := range entries {
		r.cache[ip] = host
	}
}
