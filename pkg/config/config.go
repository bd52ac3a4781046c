package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/ldmon"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Storage backends
const (
	BackendMemory  = "memory"
	BackendBadger  = "badger"
	BackendMinio   = "minio"
	DefaultBackend = BackendBadger
	DefaultBucket  = "ldmon"
)

// Background task intervals
const (
	BadgerGCInterval   = 10 * time.Minute
	BadgerDiscardRatio = 0.5
)

// Analysis timeouts and limits
const (
	AnalyzeTimeout     = 2 * time.Minute
	MaxUploadBytes     = 256 << 20
	ResultCacheSize    = 64
	MetadataTimeout    = 10 * time.Second
	StorageStatTimeout = 5 * time.Second
)

// HTTP server timeouts
const (
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 2*time.Minute + 30*time.Second
	ShutdownTimeout    = 30 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
