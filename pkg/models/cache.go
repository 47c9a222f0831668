package models

import "time"

// CacheEntry stores a cached model reply for a normalized single-turn message.
type CacheEntry struct {
	Key          string    `json:"key"`
	ResponseText string    `json:"response_text"`
	Usage        Usage     `json:"usage"`
	CreatedAt    time.Time `json:"created_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries    int64 `json:"entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Capacity   int   `json:"capacity"`
	TTLSeconds int64 `json:"ttl_seconds"`
}
