package engine

import "time"

// RetryConfig mirrors transaction_retry.* (§6).
type RetryConfig struct {
	Max            int
	InitialBackoff time.Duration
	Factor         float64
}

// CacheConfig mirrors cache.* (§6).
type CacheConfig struct {
	MaxSize    int
	DefaultTTL time.Duration
}

// PaginationConfig mirrors pagination.* (§6).
type PaginationConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// Config is the full set of engine-wide options recognized at the
// boundary (§6).
type Config struct {
	DBPath               string
	BusyTimeout          time.Duration
	TransactionRetry     RetryConfig
	Cache                CacheConfig
	Pagination           PaginationConfig
	SlowQueryThreshold   time.Duration
	AllowNegativeStock   bool
	OperationTimeout     time.Duration
}

// DefaultConfig returns the documented defaults: 30s busy timeout, 5
// retries growing 1s -> 16s, 1000-entry 30s cache, 50/1000 pagination,
// 1s slow-query threshold, negative stock disallowed, 30s operation
// timeout.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:        30 * time.Second,
		TransactionRetry:   RetryConfig{Max: 5, InitialBackoff: time.Second, Factor: 2},
		Cache:              CacheConfig{MaxSize: 1000, DefaultTTL: 30 * time.Second},
		Pagination:         PaginationConfig{DefaultLimit: 50, MaxLimit: 1000},
		SlowQueryThreshold: time.Second,
		AllowNegativeStock: false,
		OperationTimeout:   30 * time.Second,
	}
}
