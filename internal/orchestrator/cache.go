package orchestrator

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"riskgate/internal/config"
)

const tradeSummaryKeyLimit = 200

// SemanticCache 以规范化后的请求投影为键缓存 AI 响应。
// 键只取请求类型与少量上下文字段，近似相同的请求可以命中同一条目。
type SemanticCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	now     func() time.Time
}

type cacheEntry struct {
	data       map[string]interface{}
	insertedAt time.Time
}

// CacheStats 为进程生命周期内的累计统计。
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewSemanticCache 创建语义缓存。
func NewSemanticCache(cfg config.CacheConfig) *SemanticCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &SemanticCache{
		entries: make(map[string]cacheEntry),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

// Get 返回未过期的缓存响应；过期条目在读取时惰性删除。
func (c *SemanticCache) Get(requestType string, params map[string]interface{}) (map[string]interface{}, bool) {
	key := cacheKey(requestType, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok {
		if c.now().Sub(entry.insertedAt) < c.ttl {
			c.hits++
			return entry.data, true
		}
		delete(c.entries, key)
	}

	c.misses++
	return nil, false
}

// Set 写入一条响应；容量已满时淘汰写入时间最早的单个条目。
func (c *SemanticCache) Set(requestType string, params map[string]interface{}, data map[string]interface{}) {
	key := cacheKey(requestType, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = cacheEntry{
		data:       data,
		insertedAt: c.now(),
	}
}

// Stats 返回累计命中统计。
func (c *SemanticCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// cacheKey 把请求上下文规范化成稳定的小投影后哈希，而不是直接哈希原始参数。
func cacheKey(requestType string, params map[string]interface{}) string {
	normalized := struct {
		Type         string `json:"type"`
		UserContext  string `json:"user_context"`
		TradeSummary string `json:"trade_summary"`
	}{
		Type:         requestType,
		UserContext:  stringField(params, "emotional_state"),
		TradeSummary: truncateRunes(stringField(params, "trade_summary"), tradeSummaryKeyLimit),
	}

	payload, err := json.Marshal(normalized)
	if err != nil {
		payload = []byte(requestType)
	}
	return hashHex(payload)
}

func hashHex(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

func stringField(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
