package shared

import "time"

// HTTP client configuration
const (
	DefaultHTTPTimeout     = 180 * time.Second
	DefaultDialTimeout     = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Retrieval configuration
const (
	DefaultTopK          = 3
	DefaultMinScore      = 0.0
	DefaultContextBudget = 2048
	DefaultEmbedCacheTTL = 30 * time.Minute
)

// Provider configuration
const (
	DefaultMaxRetries      = 1
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultMaxConnsPerHost = 32
)

// History configuration
const (
	HistoryFlushInterval = 30 * time.Second
	HistoryBufferSize    = 256
)
