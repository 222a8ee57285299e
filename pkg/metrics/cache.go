package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// CacheMetrics counts stock cache lookups and invalidations.
type CacheMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations prometheus.Counter
}

// NewCacheMetrics registers the cache metrics on reg.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		return &CacheMetrics{}
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcore_stock_cache_lookups_total",
		Help: "Stock cache lookups by result.",
	}, []string{"result"})
	invalidations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shopcore_stock_cache_invalidated_keys_total",
		Help: "Stock cache keys deleted after durable writes.",
	})
	reg.MustRegister(lookups, invalidations)
	return &CacheMetrics{lookups: lookups, invalidations: invalidations}
}

// IncLookup records a lookup result.
func (m *CacheMetrics) IncLookup(result string) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.WithLabelValues(normalizeLabel(result)).Inc()
}

// AddInvalidated records deleted keys.
func (m *CacheMetrics) AddInvalidated(keys int) {
	if m == nil || m.invalidations == nil || keys <= 0 {
		return
	}
	m.invalidations.Add(float64(keys))
}
